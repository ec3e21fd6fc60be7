package handler

import (
	"net/http"

	"github.com/arash/imagina/internal/domain"
	"github.com/gin-gonic/gin"
)

// EngineDescriptor is the public listing entry for a generation backend.
type EngineDescriptor struct {
	Name      string  `json:"name"`
	Thumbnail string  `json:"thumbnail"`
	Price     float64 `json:"price"`
	Supported bool    `json:"supported"`
}

// ListEngines returns the catalogue of known generation backends.
func ListEngines(c *gin.Context) {
	engines := make([]EngineDescriptor, 0, len(domain.Engines()))
	for _, e := range domain.Engines() {
		engines = append(engines, EngineDescriptor{
			Name:      string(e),
			Thumbnail: e.ThumbnailURL(),
			Price:     e.Price(),
			Supported: e.Supported(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"engines": engines})
}
