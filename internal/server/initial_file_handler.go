package server

import (
	"net/http"
	pathpkg "path"
	"strings"
)

const (
	initialFileRootRequestPath = "/"
)

// initialFileHandler answers requests for the site root with the document named on the command line.
type initialFileHandler struct {
	next               http.Handler
	initialRequestPath string
}

func newInitialFileHandler(next http.Handler, initialFileRelativePath string) http.Handler {
	cleanPath := pathpkg.Clean(pathpkg.Join(initialFileRootRequestPath, strings.ReplaceAll(initialFileRelativePath, "\\", "/")))
	return initialFileHandler{
		next:               next,
		initialRequestPath: cleanPath,
	}
}

func (handler initialFileHandler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	if request.URL.Path != initialFileRootRequestPath {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}
	rewrittenRequest := request.Clone(request.Context())
	rewrittenURL := *request.URL
	rewrittenURL.Path = handler.initialRequestPath
	rewrittenURL.RawPath = ""
	rewrittenRequest.URL = &rewrittenURL
	rewrittenRequest.RequestURI = rewrittenURL.RequestURI()
	handler.next.ServeHTTP(responseWriter, rewrittenRequest)
}
