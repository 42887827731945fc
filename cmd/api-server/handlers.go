package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/arusso/filedepot/cmd/api-server/middleware"
	"github.com/arusso/filedepot/internal/upload"
	"github.com/arusso/filedepot/pkg/apperrors"
	"github.com/arusso/filedepot/pkg/types"
	"github.com/gin-gonic/gin"
)

// statusChecksumMismatch is the distinct client-correctable status for
// failed checksum verification.
const statusChecksumMismatch = 460

// statusForError maps domain errors to HTTP status codes. This is the
// only place where the taxonomy meets transport.
func statusForError(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound),
		errors.Is(err, apperrors.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperrors.ErrChecksumMismatch):
		return statusChecksumMismatch
	case errors.Is(err, apperrors.ErrDuplicatePath),
		errors.Is(err, apperrors.ErrOffsetMismatch):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrPathNotNested):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrUserExists):
		return http.StatusConflict
	default:
		// includes ErrBlobNotFound, which a client should never cause
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.Error(err)
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.JSON(status, types.APIResponse{
		Success: false,
		Error:   message,
	})
}

// handleCreateUpload starts a new upload session. The target path comes
// from the File-Path header, an optional total length from Upload-Length.
func handleCreateUpload(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		filePath := c.GetHeader("File-Path")
		if filePath == "" {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "File-Path header is required",
			})
			return
		}

		var declaredLength *int64
		if raw := c.GetHeader("Upload-Length"); raw != "" {
			length, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || length < 0 {
				c.JSON(http.StatusBadRequest, types.APIResponse{
					Success: false,
					Error:   "invalid Upload-Length header",
				})
				return
			}
			declaredLength = &length
		}

		location, err := uploadService.StartUpload(c.Request.Context(), user.Email, filePath, declaredLength)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Header("Location", location)
		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Data:    gin.H{"location": location},
		})
	}
}

// handleWriteChunk appends a chunk at the caller-supplied Upload-Offset.
// The chunk arrives as the multipart form file "chunk".
func handleWriteChunk(uploadService *upload.Service, maxChunkSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		location := c.Query("location")
		offset, err := strconv.ParseInt(c.GetHeader("Upload-Offset"), 10, 64)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid Upload-Offset header",
			})
			return
		}

		fileHeader, err := c.FormFile("chunk")
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "chunk form file is required",
			})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer file.Close()

		// read one byte past the limit so oversized chunks are detected
		// without buffering them whole
		data, err := io.ReadAll(io.LimitReader(file, int64(maxChunkSize)+1))
		if err != nil {
			abortWithError(c, err)
			return
		}

		newOffset, err := uploadService.WriteChunk(c.Request.Context(), location, user.Email, offset, data)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Header("Upload-Offset", strconv.FormatInt(newOffset, 10))
		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    gin.H{"upload_offset": newOffset},
		})
	}
}

// handleGetOffset reports the last durable byte of a session
func handleGetOffset(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.Status(http.StatusUnauthorized)
			return
		}

		lastByte, err := uploadService.GetOffset(c.Request.Context(), c.Query("location"), user.Email)
		if err != nil {
			// HEAD responses carry no body
			c.Status(statusForError(err))
			return
		}

		c.Header("Upload-Offset", strconv.FormatInt(lastByte, 10))
		c.Status(http.StatusOK)
	}
}

// handleConfirmUpload finalizes a session into a file record
func handleConfirmUpload(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		record, err := uploadService.ConfirmUpload(
			c.Request.Context(), c.Query("location"), user.Email, c.Query("checksum"))
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Data:    record.View(),
		})
	}
}

// handleCancelUpload discards a session and its blob
func handleCancelUpload(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		if err := uploadService.CancelUpload(c.Request.Context(), c.Query("location"), user.Email); err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "upload cancelled",
		})
	}
}

// handleDownloadRange streams one chunk of a finalized file
func handleDownloadRange(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		filePath := c.Query("file_path")
		offset, err := strconv.ParseInt(c.DefaultQuery("upload_offset", "0"), 10, 64)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid upload_offset",
			})
			return
		}

		data, err := uploadService.DownloadRange(c.Request.Context(), user.Email, filePath, offset)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Data(http.StatusOK, "application/octet-stream", data)
	}
}

// handleListFiles returns all finalized files of the caller
func handleListFiles(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		records, err := uploadService.ListFiles(c.Request.Context(), user.Email)
		if err != nil {
			abortWithError(c, err)
			return
		}

		views := make([]*types.FileView, 0, len(records))
		for _, record := range records {
			views = append(views, record.View())
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    views,
		})
	}
}

// handleDeleteFile removes a finalized file and releases its blob
func handleDeleteFile(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.GetUserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, types.APIResponse{Success: false, Error: "unauthorized"})
			return
		}

		filePath := c.Query("file_path")
		if err := uploadService.DeleteFile(c.Request.Context(), user.Email, filePath); err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "file deleted",
		})
	}
}
