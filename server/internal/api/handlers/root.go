package handlers

import (
	"net/http"

	"github.com/bhandras/codetutor/server/pkg/types"
	"github.com/gin-gonic/gin"
)

// RootMessage is the banner served at GET /.
const RootMessage = "Smart Code Tutor API is running"

// Root handles GET /
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, types.MessageResponse{Message: RootMessage})
}
