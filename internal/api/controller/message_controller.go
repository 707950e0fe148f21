package controller

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/service"
)

// SetMessageRequest is the payload for writing a localized message. Value may
// be a string or a list of strings.
type SetMessageRequest struct {
	Value any `json:"value" binding:"required"`
}

// MessageResponse represents a resolved message for the API.
type MessageResponse struct {
	Collection string `json:"collection"`
	Lang       string `json:"lang"`
	Key        string `json:"key"`
	Message    string `json:"message"`
}

// MessageController handles localized message endpoints.
type MessageController struct {
	svc *service.LangService
}

// NewMessageController creates a new MessageController.
func NewMessageController(svc *service.LangService) *MessageController {
	return &MessageController{svc: svc}
}

// GetMessage handles GET requests for a message. The key is the wildcard rest
// of the path with slashes as segment separators. Query parameters other than
// "default" are used as placeholder substitutions.
func (mc *MessageController) GetMessage(c *gin.Context) {
	collection := c.Param("name")
	lang := c.Param("lang")
	key := messageKey(c.Param("key"))
	def := c.Query("default")

	message := mc.svc.GetMessage(collection, lang, key, def, placeholderPairs(c)...)
	if message == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Collection: collection, Lang: lang, Key: key, Message: message})
}

// SetMessage handles PUT requests to write a message for one language.
func (mc *MessageController) SetMessage(c *gin.Context) {
	collection := c.Param("name")
	lang := c.Param("lang")
	key := messageKey(c.Param("key"))

	var req SetMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := mc.svc.SetMessage(c.Request.Context(), collection, lang, key, req.Value); err != nil {
		if errors.Is(err, service.ErrUnsupportedLanguage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Collection: collection, Lang: lang, Key: key})
}

// messageKey turns the wildcard path rest ("/gui/title") into a dotted key
// path ("gui.title").
func messageKey(raw string) string {
	return strings.ReplaceAll(strings.TrimPrefix(raw, "/"), "/", ".")
}

// placeholderPairs flattens the non-reserved query parameters into
// name,value pairs, sorted by name so substitution is deterministic.
func placeholderPairs(c *gin.Context) []string {
	query := c.Request.URL.Query()
	names := make([]string, 0, len(query))
	for name := range query {
		if name == "default" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names)*2)
	for _, name := range names {
		pairs = append(pairs, name, query.Get(name))
	}
	return pairs
}
