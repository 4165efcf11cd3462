package upload

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create accepts a multipart upload (file + schema_name) and answers 202
// once the file is stored and the ingestion job is queued.
func (h *Handler) Create(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return
	}

	schemaName := c.PostForm("schema_name")

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to open uploaded file",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read uploaded file",
		})
		return
	}

	created, err := h.service.Accept(c, fileHeader.Filename, schemaName, data)
	if err != nil {
		var duplicate *DuplicateError
		var disallowed *DisallowedTypeError
		switch {
		case errors.As(err, &duplicate):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &disallowed):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to accept upload",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"upload": created,
	})
}

// Get returns the current lifecycle state of one upload.
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be an integer",
		})
		return
	}

	found, err := h.service.Get(c, id)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load upload",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload": found,
	})
}
