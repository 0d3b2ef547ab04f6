package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/tyemirov/linebreaks/internal/render"
	"github.com/tyemirov/linebreaks/pkg/logging"
)

const (
	previewRequestPath         = "/_preview"
	previewModeQueryParameter  = "mode"
	previewMaxSourceBytes      = 1 << 20
	previewContentType         = "text/html; charset=utf-8"
	headerContentType          = "Content-Type"
	headerAllow                = "Allow"
	headerOrigin               = "Origin"
	headerContentSecurity      = "Content-Security-Policy"
	headerContentTypeOptions   = "X-Content-Type-Options"
	previewContentSecurity     = "sandbox"
	previewContentTypeOptions  = "nosniff"
	logFieldMode               = "mode"
	logMessagePreviewUpgrade   = "preview upgrade failed"
	logMessagePreviewRead      = "preview connection closed unexpectedly"
	logMessagePreviewRender    = "preview render failed"
	errorMessagePreviewTooBig  = "Preview source too large"
	errorMessagePreviewMethod  = "Preview accepts POST or WebSocket requests"
	errorMessagePreviewFailure = "Preview rendering failed"
	errorMessagePreviewOrigin  = "Preview requests must come from the serving origin"
)

// previewHandler renders submitted sources: a POST body once, or every text
// message of a WebSocket session.
type previewHandler struct {
	renderer       *render.Renderer
	loggingService *logging.Service
	upgrader       websocket.Upgrader
}

func newPreviewHandler(renderer *render.Renderer, loggingService *logging.Service) http.Handler {
	return previewHandler{
		renderer:       renderer,
		loggingService: loggingService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (handler previewHandler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	mode, modeErr := previewMode(request)
	if modeErr != nil {
		http.Error(responseWriter, modeErr.Error(), http.StatusBadRequest)
		return
	}

	if websocket.IsWebSocketUpgrade(request) {
		handler.serveSession(responseWriter, request, mode)
		return
	}

	if request.Method != http.MethodPost {
		responseWriter.Header().Set(headerAllow, http.MethodPost)
		http.Error(responseWriter, errorMessagePreviewMethod, http.StatusMethodNotAllowed)
		return
	}
	if !sameOrigin(request) {
		http.Error(responseWriter, errorMessagePreviewOrigin, http.StatusForbidden)
		return
	}

	source, readErr := io.ReadAll(http.MaxBytesReader(responseWriter, request.Body, previewMaxSourceBytes))
	if readErr != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(readErr, &maxBytesErr) {
			http.Error(responseWriter, errorMessagePreviewTooBig, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(responseWriter, readErr.Error(), http.StatusBadRequest)
		return
	}

	fragment, renderErr := handler.renderer.Fragment(mode, source)
	if renderErr != nil {
		handler.logError(logMessagePreviewRender, renderErr, mode)
		http.Error(responseWriter, errorMessagePreviewFailure, http.StatusInternalServerError)
		return
	}
	responseWriter.Header().Set(headerContentType, previewContentType)
	responseWriter.Header().Set(headerContentSecurity, previewContentSecurity)
	responseWriter.Header().Set(headerContentTypeOptions, previewContentTypeOptions)
	_, _ = responseWriter.Write(fragment)
}

func (handler previewHandler) serveSession(responseWriter http.ResponseWriter, request *http.Request, mode render.Mode) {
	connection, upgradeErr := handler.upgrader.Upgrade(responseWriter, request, nil)
	if upgradeErr != nil {
		handler.logError(logMessagePreviewUpgrade, upgradeErr, mode)
		return
	}
	defer connection.Close()
	connection.SetReadLimit(previewMaxSourceBytes)

	for {
		messageType, source, readErr := connection.ReadMessage()
		if readErr != nil {
			if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				handler.logError(logMessagePreviewRead, readErr, mode)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		fragment, renderErr := handler.renderer.Fragment(mode, source)
		if renderErr != nil {
			handler.logError(logMessagePreviewRender, renderErr, mode)
			closeMessage := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, errorMessagePreviewFailure)
			_ = connection.WriteMessage(websocket.CloseMessage, closeMessage)
			return
		}
		if writeErr := connection.WriteMessage(websocket.TextMessage, fragment); writeErr != nil {
			return
		}
	}
}

func (handler previewHandler) logError(message string, err error, mode render.Mode) {
	if handler.loggingService == nil {
		return
	}
	handler.loggingService.Error(message, err, logging.String(logFieldMode, string(mode)))
}

func previewMode(request *http.Request) (render.Mode, error) {
	rawMode := strings.TrimSpace(request.URL.Query().Get(previewModeQueryParameter))
	if rawMode == "" {
		return render.ModeText, nil
	}
	return render.ParseMode(rawMode)
}

// sameOrigin accepts requests without an Origin header and those whose Origin
// host matches the request host, the rule the WebSocket upgrader applies.
func sameOrigin(request *http.Request) bool {
	originValues := request.Header[headerOrigin]
	if len(originValues) == 0 {
		return true
	}
	originURL, parseErr := url.Parse(originValues[0])
	if parseErr != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, request.Host)
}
