package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/swaggo/swag"

	"github.com/petervdpas/goopcall/internal/api/docs"
)

//go:generate swag init -g openapi.go -d ./,../call,../storage -o ./docs --outputTypes go --parseDependency=false

//	@title						goopcall control API
//	@version					1.0
//	@description				Local control surface for the call manager: call actions, contacts, history and a WebSocket event stream.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization

type healthResponse struct {
	OK     bool   `json:"ok"`
	SelfID string `json:"self_id" example:"alice"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error" example:"no active call"`
}

// toggleResponse is the new state of a mic, camera, deafen or screen toggle.
type toggleResponse struct {
	On bool `json:"on"`
}

type volumeResponse struct {
	Volume float64 `json:"volume" example:"0.8"`
}

type avatarResponse struct {
	AvatarURL string `json:"avatar_url" example:"/blobs/3f2a9c.png"`
}

// The toggles share one closure, so their documentation lives on stubs.

//	@Summary	Toggle the microphone
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	toggleResponse
//	@Failure	404	{object}	errorResponse
//	@Failure	409	{object}	errorResponse	"deafened or not connected"
//	@Router		/api/call/mic [post]
func swagCallMic() {}

//	@Summary	Toggle the camera
//	@Description	Turning the camera on from a screen share switches back to the camera.
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	toggleResponse
//	@Failure	404	{object}	errorResponse
//	@Failure	422	{object}	errorResponse	"camera unavailable"
//	@Router		/api/call/video [post]
func swagCallVideo() {}

//	@Summary	Toggle deafen
//	@Description	Deafen also mutes the microphone; undeafen restores the previous mic state.
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	toggleResponse
//	@Failure	404	{object}	errorResponse
//	@Router		/api/call/deafen [post]
func swagCallDeafen() {}

//	@Summary	Toggle screen share
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	toggleResponse
//	@Failure	404	{object}	errorResponse
//	@Failure	422	{object}	errorResponse	"screen capture unavailable"
//	@Router		/api/call/screen [post]
func swagCallScreen() {}

// openapi serves the registered swagger document.
//
//	@Summary	This OpenAPI document
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Router		/api/openapi.json [get]
func (s *Server) openapi(c *gin.Context) {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}
