// internal/handler/board_handler.go
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"micropython-service/internal/fileops"
	"micropython-service/internal/repl"
	"micropython-service/internal/service"
	"micropython-service/internal/utils"
)

// maxUploadSize bounds request bodies for file uploads. Boards rarely have
// more than a few megabytes of flash.
const maxUploadSize = 8 << 20

// BoardHandler handles board-related HTTP requests
type BoardHandler struct {
	boardService *service.BoardService
	logger       *utils.ServiceLogger
}

// NewBoardHandler creates a new board handler
func NewBoardHandler(boardService *service.BoardService, logger *zap.Logger) *BoardHandler {
	return &BoardHandler{
		boardService: boardService,
		logger:       utils.NewServiceLogger(logger, "board-handler"),
	}
}

// ConnectRequest selects the serial device to open.
type ConnectRequest struct {
	Device string `json:"device"`
}

// ExecRequest carries code to run in the raw REPL.
type ExecRequest struct {
	Code string `json:"code" binding:"required"`
}

// ExecResponse is the outcome of one execution.
type ExecResponse struct {
	Stdout    string `json:"stdout"`
	HadError  bool   `json:"had_error"`
	Traceback string `json:"traceback,omitempty"`
}

// RenameRequest moves a file or directory on the board.
type RenameRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// DirRequest names a directory to create.
type DirRequest struct {
	Path string `json:"path" binding:"required"`
}

func newExecResponse(frame *repl.ResponseFrame) *ExecResponse {
	resp := &ExecResponse{
		Stdout:   string(frame.Stdout),
		HadError: frame.HadError,
	}
	if frame.HadError {
		resp.Traceback = string(frame.ErrorText)
	}
	return resp
}

// ListPorts lists serial ports that may have a board behind them
// @Summary List serial ports
// @Description Enumerate USB serial ports and identify known MicroPython boards
// @Tags Board
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]discovery.DiscoveredDevice}} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /ports [get]
func (h *BoardHandler) ListPorts(c *gin.Context) {
	ports, err := h.boardService.Ports(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports listed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
	})
}

// Connect opens the board
// @Summary Connect to the board
// @Description Open a serial device (or the configured port) and resync to the friendly prompt
// @Tags Board
// @Accept json
// @Produce json
// @Param request body ConnectRequest false "Device to open"
// @Success 200 {object} utils.APIResponse{data=service.BoardStatus} "Board connected"
// @Failure 400 {object} utils.APIResponse "No device specified"
// @Failure 502 {object} utils.APIResponse "Port could not be opened"
// @Router /board/connect [post]
func (h *BoardHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	status, err := h.boardService.Connect(c.Request.Context(), req.Device)
	if err != nil {
		h.fail(c, "Failed to connect board", err)
		return
	}

	h.logger.Info("Board connected", zap.String("device", status.Device))
	utils.SuccessResponse(c, http.StatusOK, "Board connected", status)
}

// Disconnect closes the board
// @Summary Disconnect from the board
// @Tags Board
// @Produce json
// @Success 200 {object} utils.APIResponse "Board disconnected"
// @Router /board/disconnect [post]
func (h *BoardHandler) Disconnect(c *gin.Context) {
	if err := h.boardService.Disconnect(c.Request.Context()); err != nil {
		h.fail(c, "Failed to disconnect board", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Board disconnected", nil)
}

// Status returns the connection snapshot
// @Summary Board status
// @Tags Board
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.BoardStatus} "Board status"
// @Router /board/status [get]
func (h *BoardHandler) Status(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Board status", h.boardService.Status())
}

// Exec runs code on the board
// @Summary Execute code
// @Description Run code in the raw REPL. A traceback is returned as data, not as an HTTP error.
// @Tags Board
// @Accept json
// @Produce json
// @Param request body ExecRequest true "Code to run"
// @Success 200 {object} utils.APIResponse{data=ExecResponse} "Code executed"
// @Failure 409 {object} utils.APIResponse "Not connected or preempted"
// @Failure 504 {object} utils.APIResponse "Board did not answer in time"
// @Router /board/exec [post]
func (h *BoardHandler) Exec(c *gin.Context) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	frame, err := h.boardService.Exec(c.Request.Context(), req.Code, nil)
	if err != nil {
		h.fail(c, "Failed to execute code", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Code executed", newExecResponse(frame))
}

// Interrupt sends CTRL-C
// @Summary Interrupt the board
// @Description Send CTRL-C without cancelling the pending operation
// @Tags Board
// @Produce json
// @Success 200 {object} utils.APIResponse "Interrupt sent"
// @Router /board/interrupt [post]
func (h *BoardHandler) Interrupt(c *gin.Context) {
	if err := h.boardService.Interrupt(c.Request.Context()); err != nil {
		h.fail(c, "Failed to interrupt board", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Interrupt sent", nil)
}

// Stop cancels the pending operation
// @Summary Stop the running program
// @Tags Board
// @Produce json
// @Success 200 {object} utils.APIResponse "Program stopped"
// @Router /board/stop [post]
func (h *BoardHandler) Stop(c *gin.Context) {
	if err := h.boardService.Stop(c.Request.Context()); err != nil {
		h.fail(c, "Failed to stop program", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Program stopped", nil)
}

// Reset soft reboots the board
// @Summary Soft reset
// @Tags Board
// @Produce json
// @Success 200 {object} utils.APIResponse "Board reset"
// @Router /board/reset [post]
func (h *BoardHandler) Reset(c *gin.Context) {
	if err := h.boardService.Reset(c.Request.Context()); err != nil {
		h.fail(c, "Failed to reset board", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Board reset", nil)
}

// ReadFile downloads a file
// @Summary Read a file
// @Description Text reads normalize CRLF to LF; binary=true returns exact bytes
// @Tags Files
// @Produce octet-stream
// @Param path query string true "File path"
// @Param binary query bool false "Return exact bytes"
// @Success 200 {file} binary "File content"
// @Failure 422 {object} utils.APIResponse "Board raised an exception"
// @Router /board/files [get]
func (h *BoardHandler) ReadFile(c *gin.Context) {
	path := c.Query("path")
	binary, _ := strconv.ParseBool(c.DefaultQuery("binary", "false"))

	content, err := h.boardService.ReadFile(c.Request.Context(), path, binary)
	if err != nil {
		h.fail(c, "Failed to read file", err)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if binary {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, content)
}

// WriteFile uploads a file
// @Summary Write a file
// @Description The request body is written verbatim to path
// @Tags Files
// @Accept octet-stream
// @Produce json
// @Param path query string true "File path"
// @Success 200 {object} utils.APIResponse{data=object{path=string,size=int}} "File written"
// @Failure 413 {object} utils.APIResponse "Body too large"
// @Router /board/files [put]
func (h *BoardHandler) WriteFile(c *gin.Context) {
	path := c.Query("path")
	content, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, "File too large", err)
			return
		}
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	opLogger := utils.NewOperationLogger(h.logger.Logger, "upload", utils.GetRequestID(c))
	progress := func(percent int) {
		opLogger.Progress("Uploading", percent)
	}
	if err := h.boardService.WriteFile(c.Request.Context(), path, content, progress); err != nil {
		h.fail(c, "Failed to write file", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "File written", gin.H{
		"path": path,
		"size": len(content),
	})
}

// DeleteFile removes a file, or an empty directory with dir=true
// @Summary Delete a file or directory
// @Tags Files
// @Produce json
// @Param path query string true "Path"
// @Param dir query bool false "Remove a directory"
// @Success 200 {object} utils.APIResponse{data=object{path=string,removed=bool}} "Delete attempted"
// @Router /board/files [delete]
func (h *BoardHandler) DeleteFile(c *gin.Context) {
	path := c.Query("path")
	dir, _ := strconv.ParseBool(c.DefaultQuery("dir", "false"))

	var (
		removed bool
		err     error
	)
	if dir {
		removed, err = h.boardService.RemoveDir(c.Request.Context(), path)
	} else {
		removed, err = h.boardService.RemoveFile(c.Request.Context(), path)
	}
	if err != nil {
		h.fail(c, "Failed to delete", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Delete attempted", gin.H{
		"path":    path,
		"removed": removed,
	})
}

// ListDir lists a directory
// @Summary List a directory
// @Tags Files
// @Produce json
// @Param path query string false "Directory, empty for the working directory"
// @Param detailed query bool false "Include type and size"
// @Success 200 {object} utils.APIResponse "Directory listed"
// @Router /board/dirs [get]
func (h *BoardHandler) ListDir(c *gin.Context) {
	path := c.Query("path")
	detailed, _ := strconv.ParseBool(c.DefaultQuery("detailed", "false"))

	if detailed {
		entries, err := h.boardService.ListEntries(c.Request.Context(), path)
		if err != nil {
			h.fail(c, "Failed to list directory", err)
			return
		}
		if entries == nil {
			entries = []fileops.DirEntry{}
		}
		utils.SuccessResponse(c, http.StatusOK, "Directory listed", gin.H{"path": path, "entries": entries})
		return
	}

	names, err := h.boardService.ListFiles(c.Request.Context(), path)
	if err != nil {
		h.fail(c, "Failed to list directory", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	utils.SuccessResponse(c, http.StatusOK, "Directory listed", gin.H{"path": path, "names": names})
}

// MakeDir creates a directory
// @Summary Create a directory
// @Tags Files
// @Accept json
// @Produce json
// @Param request body DirRequest true "Directory to create"
// @Success 201 {object} utils.APIResponse "Directory created"
// @Failure 422 {object} utils.APIResponse "Board raised an exception"
// @Router /board/dirs [post]
func (h *BoardHandler) MakeDir(c *gin.Context) {
	var req DirRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.boardService.MakeDir(c.Request.Context(), req.Path); err != nil {
		h.fail(c, "Failed to create directory", err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Directory created", gin.H{"path": req.Path})
}

// Rename moves a file or directory
// @Summary Rename
// @Tags Files
// @Accept json
// @Produce json
// @Param request body RenameRequest true "Source and destination"
// @Success 200 {object} utils.APIResponse "Renamed"
// @Failure 422 {object} utils.APIResponse "Board raised an exception"
// @Router /board/rename [post]
func (h *BoardHandler) Rename(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.boardService.Rename(c.Request.Context(), req.From, req.To); err != nil {
		h.fail(c, "Failed to rename", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Renamed", gin.H{"from": req.From, "to": req.To})
}

// fail maps a service error onto an HTTP status and error code.
func (h *BoardHandler) fail(c *gin.Context, message string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err), zap.String("code", code))
	} else {
		h.logger.Warn(message, zap.Error(err), zap.String("code", code))
	}
	utils.CodedErrorResponse(c, status, code, message, err)
}

func classifyError(err error) (int, string) {
	var remote *repl.RemoteError
	switch {
	case errors.Is(err, service.ErrNotConnected):
		return http.StatusConflict, "NOT_CONNECTED"
	case errors.Is(err, service.ErrBoardUnavailable):
		return http.StatusServiceUnavailable, "BOARD_UNAVAILABLE"
	case errors.As(err, &remote):
		return http.StatusUnprocessableEntity, "REMOTE_EXCEPTION"
	}

	switch repl.KindOf(err) {
	case repl.KindNoDeviceSpecified:
		return http.StatusBadRequest, "NO_DEVICE"
	case repl.KindPathRequired:
		return http.StatusBadRequest, "PATH_REQUIRED"
	case repl.KindPreempted:
		return http.StatusConflict, "PREEMPTED"
	case repl.KindNotOpen:
		return http.StatusConflict, "NOT_CONNECTED"
	case repl.KindTimeout:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case repl.KindCanceled:
		return http.StatusRequestTimeout, "CANCELED"
	case repl.KindTransportOpen:
		return http.StatusBadGateway, "TRANSPORT_OPEN_FAILED"
	case repl.KindTransport:
		return http.StatusBadGateway, "TRANSPORT_ERROR"
	case repl.KindEnterRawFailed:
		return http.StatusBadGateway, "ENTER_RAW_FAILED"
	case repl.KindRejected:
		return http.StatusBadGateway, "REJECTED"
	case repl.KindDecode:
		return http.StatusBadGateway, "DECODE_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"
}
