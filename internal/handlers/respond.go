package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/olie-orders/internal/apperr"
)

// envelope flattens v's JSON fields next to "ok": true.
func envelope(v interface{}) (gin.H, error) {
	out := gin.H{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	}
	out["ok"] = true
	return out, nil
}

func respondOK(c *gin.Context, v interface{}) {
	body, err := envelope(v)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": apperr.Message(err)})
}
