package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
	"github.com/NahidDesigner/ai-prd-creator/internal/auth"
)

type putKeyRequest struct {
	APIKey string `json:"api_key"`
}

func bindKey(c *gin.Context) (string, bool) {
	var req putKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("Request body must be JSON with api_key"))
		return "", false
	}
	return req.APIKey, true
}

func (a *api) listUserKeys(c *gin.Context) {
	caller, _ := auth.CallerFrom(c)
	keys, err := a.keys.ListUserKeys(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (a *api) putUserKey(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	caller, _ := auth.CallerFrom(c)
	info, err := a.keys.SaveUserKey(c.Request.Context(), caller.UserID, c.Param("provider"), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *api) deleteUserKey(c *gin.Context) {
	caller, _ := auth.CallerFrom(c)
	if err := a.keys.DeleteUserKey(c.Request.Context(), caller.UserID, c.Param("provider")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) listGlobalKeys(c *gin.Context) {
	keys, err := a.keys.ListGlobalKeys(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (a *api) putGlobalKey(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	caller, _ := auth.CallerFrom(c)
	info, err := a.keys.SaveGlobalKey(c.Request.Context(), caller.UserID, c.Param("provider"), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *api) deleteGlobalKey(c *gin.Context) {
	caller, _ := auth.CallerFrom(c)
	if err := a.keys.DeleteGlobalKey(c.Request.Context(), caller.UserID, c.Param("provider")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
