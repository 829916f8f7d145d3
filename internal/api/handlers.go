package api

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/petervdpas/goopcall/internal/avatar"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/storage"
)

// health reports liveness and this node's id.
//
//	@Summary	Liveness and self id
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	healthResponse
//	@Router		/api/health [get]
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{OK: true, SelfID: s.opts.SelfID})
}

func (s *Server) respondStatus(c *gin.Context) {
	st, ok := s.opts.Calls.Status()
	if !ok {
		fail(c, call.ErrNoSession)
		return
	}
	c.JSON(http.StatusOK, st)
}

// callStatus returns the active call.
//
//	@Summary	Active call status
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	call.Status
//	@Failure	404	{object}	errorResponse	"no active call"
//	@Router		/api/call [get]
func (s *Server) callStatus(c *gin.Context) { s.respondStatus(c) }

type startRequest struct {
	PartnerID string        `json:"partner_id" binding:"required"`
	Type      call.CallType `json:"type"`
}

// callStart dials a contact.
//
//	@Summary	Start an outgoing call
//	@Tags		call
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		body	body		startRequest	true	"Partner and call type"
//	@Success	200		{object}	call.Status
//	@Failure	400		{object}	errorResponse
//	@Failure	409		{object}	errorResponse	"a call is already active"
//	@Failure	422		{object}	errorResponse	"microphone unavailable"
//	@Router		/api/call/start [post]
func (s *Server) callStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = call.CallAudio
	}
	if _, err := s.opts.Calls.StartCall(c.Request.Context(), req.PartnerID, req.Type); err != nil {
		fail(c, err)
		return
	}
	s.respondStatus(c)
}

//	@Summary	Answer the ringing call
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	call.Status
//	@Failure	404	{object}	errorResponse	"nothing ringing"
//	@Failure	409	{object}	errorResponse
//	@Router		/api/call/answer [post]
func (s *Server) callAnswer(c *gin.Context) {
	if _, err := s.opts.Calls.Answer(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	s.respondStatus(c)
}

//	@Summary	Reject the ringing call
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	okResponse
//	@Failure	404	{object}	errorResponse
//	@Router		/api/call/reject [post]
func (s *Server) callReject(c *gin.Context) {
	if err := s.opts.Calls.Reject(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse{OK: true})
}

//	@Summary	Hang up
//	@Tags		call
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{object}	okResponse
//	@Failure	404	{object}	errorResponse
//	@Router		/api/call/hangup [post]
func (s *Server) callHangup(c *gin.Context) {
	if err := s.opts.Calls.Hangup(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *Server) toggle(fn func(context.Context) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		on, err := fn(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toggleResponse{On: on})
	}
}

type volumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

//	@Summary	Set the partner playback volume
//	@Tags		call
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		body	body		volumeRequest	true	"Volume in [0,1], clamped"
//	@Success	200		{object}	volumeResponse
//	@Failure	400		{object}	errorResponse
//	@Failure	404		{object}	errorResponse
//	@Router		/api/call/volume [post]
func (s *Server) callVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.opts.Calls.SetRemoteVolume(*req.Volume)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, volumeResponse{Volume: v})
}

//	@Summary	Recent calls, newest first
//	@Tags		history
//	@Produce	json
//	@Security	BearerAuth
//	@Param		limit	query		int	false	"Maximum entries"	default(50)
//	@Success	200		{array}		storage.CallEntry
//	@Failure	400		{object}	errorResponse
//	@Router		/api/calls/history [get]
func (s *Server) callHistory(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := s.opts.Store.ListCalls(limit)
	if err != nil {
		fail(c, err)
		return
	}
	if entries == nil {
		entries = []storage.CallEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

//	@Summary	List contacts
//	@Tags		contacts
//	@Produce	json
//	@Security	BearerAuth
//	@Success	200	{array}	storage.Contact
//	@Router		/api/contacts [get]
func (s *Server) contactList(c *gin.Context) {
	contacts, err := s.opts.Store.ListContacts()
	if err != nil {
		fail(c, err)
		return
	}
	if contacts == nil {
		contacts = []storage.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type contactRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

// contactUpsert saves a contact and starts listening for its calls.
//
//	@Summary	Add or rename a contact
//	@Tags		contacts
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		body	body		contactRequest	true	"Contact"
//	@Success	200		{object}	storage.Contact
//	@Failure	400		{object}	errorResponse
//	@Router		/api/contacts [post]
func (s *Server) contactUpsert(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == s.opts.SelfID {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot add self as contact"})
		return
	}
	if err := s.opts.Store.UpsertContact(storage.Contact{ID: req.ID, Name: req.Name}); err != nil {
		fail(c, err)
		return
	}
	if err := s.opts.Calls.Listen(context.Background(), req.ID); err != nil {
		fail(c, err)
		return
	}
	contact, err := s.opts.Store.GetContact(req.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

//	@Summary	Upload a contact avatar
//	@Description	Raw PNG, JPEG, GIF or WebP body. The blob is stored by content hash.
//	@Tags		contacts
//	@Accept		octet-stream
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Contact id"
//	@Success	200	{object}	avatarResponse
//	@Failure	404	{object}	errorResponse
//	@Failure	413	{object}	errorResponse
//	@Failure	415	{object}	errorResponse
//	@Router		/api/contacts/{id}/avatar [post]
func (s *Server) contactAvatar(c *gin.Context) {
	if s.opts.Blobs == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "avatar storage disabled"})
		return
	}
	id := c.Param("id")
	if _, err := s.opts.Store.GetContact(id); err != nil {
		fail(c, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, avatar.MaxSize+1))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	url, err := s.opts.Blobs.Put(data)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.opts.Store.SetContactAvatar(id, url); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, avatarResponse{AvatarURL: url})
}

//	@Summary	Fetch a stored blob
//	@Tags		contacts
//	@Produce	image/png,image/jpeg,image/gif,image/webp,image/svg+xml
//	@Param		name	path	string	true	"Blob name"
//	@Success	200
//	@Failure	404	{object}	errorResponse
//	@Router		/blobs/{name} [get]
func (s *Server) blob(c *gin.Context) {
	if s.opts.Blobs == nil {
		c.Status(http.StatusNotFound)
		return
	}
	path, err := s.opts.Blobs.Path(c.Param("name"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(path)
}

//	@Summary	Recent log lines
//	@Tags		system
//	@Produce	json
//	@Security	BearerAuth
//	@Param		tail	query	int	false	"Number of lines"	default(200)
//	@Success	200		{array}	LogEntry
//	@Router		/api/logs [get]
func (s *Server) logs(c *gin.Context) {
	if s.opts.Logs == nil {
		c.JSON(http.StatusOK, []LogEntry{})
		return
	}
	n := 200
	if q := c.Query("tail"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			n = v
		}
	}
	c.JSON(http.StatusOK, s.opts.Logs.Tail(n))
}
