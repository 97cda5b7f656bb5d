package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"micropython-service/internal/config"
	"micropython-service/internal/discovery"
	"micropython-service/internal/protocol/prototest"
	"micropython-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubScanner struct {
	devices []*discovery.DiscoveredDevice
}

func (s *stubScanner) Scan(context.Context) ([]*discovery.DiscoveredDevice, error) {
	return s.devices, nil
}

// boardFS is a tiny filesystem behind the simulated interpreter. It
// understands the snippets the file operations send.
type boardFS struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	writing string
	pending bytes.Buffer
}

func newBoardFS() *boardFS {
	return &boardFS{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func quotedArg(code, after string) string {
	i := strings.Index(code, after)
	if i < 0 {
		return ""
	}
	rest := code[i+len(after):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return ""
	}
	return rest[:j]
}

const missingFile = "Traceback (most recent call last):\r\n  File \"<stdin>\", line 1, in <module>\r\nOSError: [Errno 2] ENOENT\r\n"

func (fs *boardFS) file(path string) []byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.files[path]
}

func (fs *boardFS) exec(code string) prototest.Result {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch {
	case code == "print(123)":
		return prototest.Result{Stdout: "123\r\n"}
	case strings.HasPrefix(code, "raise"):
		return prototest.Result{Stderr: "Traceback (most recent call last):\r\nValueError: bad\r\n"}
	case strings.HasPrefix(code, "f=open("):
		fs.writing = quotedArg(code, `open("`)
		fs.pending.Reset()
	case strings.HasPrefix(code, "w(bytes(["):
		body := strings.TrimSuffix(strings.TrimPrefix(code, "w(bytes(["), "]))")
		for _, item := range strings.Split(body, ",") {
			b, _ := hex.DecodeString(strings.TrimPrefix(item, "0x"))
			fs.pending.Write(b)
		}
	case strings.HasPrefix(code, "f.close()"):
		fs.files[fs.writing] = append([]byte(nil), fs.pending.Bytes()...)
	case strings.Contains(code, "'r') as f"):
		content, ok := fs.files[quotedArg(code, `open("`)]
		if !ok {
			return prototest.Result{Stderr: missingFile}
		}
		return prototest.Result{Stdout: string(content)}
	case strings.Contains(code, "'rb') as f"):
		content, ok := fs.files[quotedArg(code, `open("`)]
		if !ok {
			return prototest.Result{Stderr: missingFile}
		}
		var out strings.Builder
		for _, b := range content {
			out.WriteString(strconv.Itoa(int(b)) + ",")
		}
		return prototest.Result{Stdout: out.String()}
	case strings.Contains(code, "uos.listdir"):
		names := make([]string, 0, len(fs.files))
		for name := range fs.files {
			names = append(names, "'"+strings.TrimPrefix(name, "/")+"'")
		}
		sort.Strings(names)
		return prototest.Result{Stdout: "[" + strings.Join(names, ", ") + "]\r\n"}
	case strings.Contains(code, "uos.remove("):
		path := quotedArg(code, `uos.remove("`)
		if _, ok := fs.files[path]; !ok {
			return prototest.Result{Stdout: "0\r\n"}
		}
		delete(fs.files, path)
		return prototest.Result{Stdout: "1\r\n"}
	case strings.Contains(code, "uos.mkdir("):
		path := quotedArg(code, `uos.mkdir("`)
		if fs.dirs[path] {
			return prototest.Result{Stderr: "Traceback (most recent call last):\r\nOSError: [Errno 17] EEXIST\r\n"}
		}
		fs.dirs[path] = true
	}
	return prototest.Result{}
}

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "micropython-service", Version: "test", Environment: "development"},
		Serial: config.SerialConfig{Port: "/dev/ttyACM0", BaudRate: 115200},
		Repl:   config.ReplConfig{Timeout: 500 * time.Millisecond},
		Transfer: config.TransferConfig{
			CommandChunkSize: 64,
			UploadChunkSize:  48,
			ReadChunkSize:    256,
			OperationTimeout: time.Second,
		},
		Security: config.SecurityConfig{AllowedOrigins: []string{"*"}},
		Breaker:  config.BreakerConfig{Enabled: true, MaxFailures: 2, Timeout: time.Minute},
	}
}

type testEnv struct {
	router  *gin.Engine
	service *service.BoardService
	board   *prototest.Board
	fs      *boardFS
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newBoardFS()
	board := prototest.NewBoard(fs.exec)
	cfg := testConfig()
	scanner := &stubScanner{devices: []*discovery.DiscoveredDevice{{Path: "/dev/ttyACM0", Model: "Raspberry Pi Pico", Confidence: 0.9}}}
	bs := service.NewBoardService(board.Factory(), scanner, afero.NewMemMapFs(), cfg, zap.NewNop())
	t.Cleanup(func() { bs.Close() })

	h := NewBoardHandler(bs, zap.NewNop())
	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/ports", h.ListPorts)
	b := api.Group("/board")
	b.POST("/connect", h.Connect)
	b.POST("/disconnect", h.Disconnect)
	b.GET("/status", h.Status)
	b.POST("/exec", h.Exec)
	b.POST("/interrupt", h.Interrupt)
	b.POST("/stop", h.Stop)
	b.POST("/reset", h.Reset)
	b.GET("/files", h.ReadFile)
	b.PUT("/files", h.WriteFile)
	b.DELETE("/files", h.DeleteFile)
	b.GET("/dirs", h.ListDir)
	b.POST("/dirs", h.MakeDir)
	b.POST("/rename", h.Rename)

	return &testEnv{router: router, service: bs, board: board, fs: fs}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if len(body) > 0 && body[0] == '{' {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/v1/board/connect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, resp.Success)
}

func TestBoardHandlerRequiresConnection(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{"code":"print(123)"}`))
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_CONNECTED", resp.Error.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/board/interrupt", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBoardHandlerConnectAndStatus(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/board/connect", []byte(`{"device":"/dev/ttyUSB3"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var status service.BoardStatus
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.True(t, status.Connected)
	assert.Equal(t, "/dev/ttyUSB3", status.Device)
	assert.Equal(t, "friendly", status.Mode)

	w, resp = env.do(t, http.MethodGet, "/api/v1/board/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "/dev/ttyUSB3", status.Device)

	w, _ = env.do(t, http.MethodPost, "/api/v1/board/disconnect", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.board.IsOpen())
}

func TestBoardHandlerConnectFailure(t *testing.T) {
	env := newTestEnv(t)
	env.board.SetOpenError(assert.AnError)

	w, resp := env.do(t, http.MethodPost, "/api/v1/board/connect", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TRANSPORT_OPEN_FAILED", resp.Error.Code)
}

func TestBoardHandlerExec(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{"code":"print(123)"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result ExecResponse
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, "123\r\n", result.Stdout)
	assert.False(t, result.HadError)

	w, resp = env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{"code":"raise ValueError('bad')"}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.HadError)
	assert.Contains(t, result.Traceback, "ValueError: bad")

	w, _ = env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoardHandlerExecTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)
	env.board.SetSilent(true)

	w, resp := env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{"code":"print(123)"}`))
	require.NotNil(t, resp.Error)
	assert.Contains(t, []int{http.StatusGatewayTimeout, http.StatusBadGateway}, w.Code)
}

func TestBoardHandlerFiles(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	content := []byte("print('hello')\r\nprint('world')\r\n")
	w, _ := env.do(t, http.MethodPut, "/api/v1/board/files?path=/main.py", content)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, content, env.fs.file("/main.py"))

	w, _ = env.do(t, http.MethodGet, "/api/v1/board/files?path=/main.py", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "print('hello')\nprint('world')\n", w.Body.String())

	w, _ = env.do(t, http.MethodGet, "/api/v1/board/files?path=/main.py&binary=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	w, resp := env.do(t, http.MethodGet, "/api/v1/board/dirs?path=/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Names []string `json:"names"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &listing))
	assert.Equal(t, []string{"main.py"}, listing.Names)

	w, resp = env.do(t, http.MethodDelete, "/api/v1/board/files?path=/main.py", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var removed struct {
		Removed bool `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &removed))
	assert.True(t, removed.Removed)

	w, resp = env.do(t, http.MethodDelete, "/api/v1/board/files?path=/main.py", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &removed))
	assert.False(t, removed.Removed)
}

func TestBoardHandlerFileErrors(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/board/files?path=/missing.py", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "REMOTE_EXCEPTION", resp.Error.Code)

	w, resp = env.do(t, http.MethodGet, "/api/v1/board/files", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PATH_REQUIRED", resp.Error.Code)

	w, _ = env.do(t, http.MethodPost, "/api/v1/board/dirs", []byte(`{"path":"/lib"}`))
	assert.Equal(t, http.StatusCreated, w.Code)
	w, resp = env.do(t, http.MethodPost, "/api/v1/board/dirs", []byte(`{"path":"/lib"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "REMOTE_EXCEPTION", resp.Error.Code)
}

func TestBoardHandlerRename(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	w, _ := env.do(t, http.MethodPost, "/api/v1/board/rename", []byte(`{"from":"/a.py","to":"/b.py"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	executed := env.board.Executed()
	assert.Equal(t, "import uos\nuos.rename(\"/a.py\",\"/b.py\")", executed[len(executed)-1])

	w, _ = env.do(t, http.MethodPost, "/api/v1/board/rename", []byte(`{"from":"/a.py"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoardHandlerListPorts(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/v1/ports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ports struct {
		PortsFound int                           `json:"ports_found"`
		Ports      []*discovery.DiscoveredDevice `json:"ports"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &ports))
	assert.Equal(t, 1, ports.PortsFound)
	assert.Equal(t, "/dev/ttyACM0", ports.Ports[0].Path)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not connected", service.ErrNotConnected, http.StatusConflict, "NOT_CONNECTED"},
		{"unavailable", service.ErrBoardUnavailable, http.StatusServiceUnavailable, "BOARD_UNAVAILABLE"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classifyError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
