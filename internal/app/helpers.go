// internal/app/helpers.go
package app

import (
	"log"
	"strings"
)

// NormalizeLocalAddr keeps the control API on loopback unless an explicit
// host is configured, and returns the listen addr and browser URL.
func NormalizeLocalAddr(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	listenAddr = a
	url = "http://" + a
	return
}

func logBanner(peerDir, cfgPath, selfID string) {
	log.Println("────────────────────────────────────────")
	log.Println("goopcall peer scope")
	log.Printf(" Peer folder : %s", peerDir)
	log.Printf(" Config file : %s", cfgPath)
	log.Printf(" Identity    : %s", selfID)
	log.Println("")
	log.Println(" This process represents ONE peer.")
	log.Println(" Different folder/config = different peer.")
	log.Println("────────────────────────────────────────")
}
