package server

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"
	pathpkg "path"
	"sort"
	"strconv"
	"strings"

	"github.com/tyemirov/linebreaks/internal/render"
	"github.com/tyemirov/linebreaks/pkg/logging"
)

const (
	rawQueryParameter       = "raw"
	readmeBaseName          = "README"
	renderedDocumentSuffix  = ".html"
	logFieldDocument        = "document"
	logMessageRenderSkipped = "document rendering failed, serving raw file"
)

var directoryIndexCandidates = []string{"index.html", "index.htm"}

type documentHandler struct {
	next           http.Handler
	fileSystem     http.FileSystem
	renderer       *render.Renderer
	loggingService *logging.Service
	enableMarkdown bool
}

func newDocumentHandler(next http.Handler, fileSystem http.FileSystem, renderer *render.Renderer, loggingService *logging.Service, enableMarkdown bool) http.Handler {
	return documentHandler{
		next:           next,
		fileSystem:     fileSystem,
		renderer:       renderer,
		loggingService: loggingService,
		enableMarkdown: enableMarkdown,
	}
}

func (handler documentHandler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	if handler.renderer == nil || isRawRequest(request) {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	file, openErr := handler.fileSystem.Open(request.URL.Path)
	if openErr != nil {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	fileInfo, statErr := file.Stat()
	file.Close()
	if statErr != nil {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	if fileInfo.IsDir() {
		handler.serveDirectory(responseWriter, request)
		return
	}

	mode, supported := handler.documentMode(fileInfo.Name())
	if !supported {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	handler.serveDocument(responseWriter, request, request.URL.Path, fileInfo, mode)
}

func (handler documentHandler) serveDirectory(responseWriter http.ResponseWriter, request *http.Request) {
	if !strings.HasSuffix(request.URL.Path, "/") {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	if directoryIndexExists(handler.fileSystem, request.URL.Path) {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	candidatePath, candidateInfo, candidateMode := handler.selectDocumentCandidate(request.URL.Path)
	if candidatePath == "" {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}
	handler.serveDocument(responseWriter, request, candidatePath, candidateInfo, candidateMode)
}

func (handler documentHandler) serveDocument(responseWriter http.ResponseWriter, request *http.Request, documentPath string, documentInfo fs.FileInfo, mode render.Mode) {
	file, openErr := handler.fileSystem.Open(documentPath)
	if openErr != nil {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}
	defer file.Close()

	contentBytes, readErr := io.ReadAll(file)
	if readErr != nil {
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	documentTitle := render.TitleFromPath(documentInfo.Name())
	document, renderErr := handler.renderer.Document(mode, documentTitle, contentBytes)
	if renderErr != nil {
		if handler.loggingService != nil {
			handler.loggingService.Error(logMessageRenderSkipped, renderErr, logging.String(logFieldDocument, documentPath))
		}
		handler.next.ServeHTTP(responseWriter, request)
		return
	}

	http.ServeContent(responseWriter, request, documentTitle+renderedDocumentSuffix, documentInfo.ModTime(), bytes.NewReader(document))
}

// selectDocumentCandidate prefers a README document, then a lone document.
func (handler documentHandler) selectDocumentCandidate(directoryPath string) (string, fs.FileInfo, render.Mode) {
	directoryHandle, openErr := handler.fileSystem.Open(directoryPath)
	if openErr != nil {
		return "", nil, ""
	}
	defer directoryHandle.Close()

	entries, readErr := directoryHandle.Readdir(-1)
	if readErr != nil {
		return "", nil, ""
	}
	sort.Slice(entries, func(left int, right int) bool {
		return entries[left].Name() < entries[right].Name()
	})

	var documentEntries []fs.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		mode, supported := handler.documentMode(entry.Name())
		if !supported {
			continue
		}
		if strings.EqualFold(render.TitleFromPath(entry.Name()), readmeBaseName) {
			return pathpkg.Join(directoryPath, entry.Name()), entry, mode
		}
		documentEntries = append(documentEntries, entry)
	}

	if len(documentEntries) == 1 {
		onlyEntry := documentEntries[0]
		mode, _ := handler.documentMode(onlyEntry.Name())
		return pathpkg.Join(directoryPath, onlyEntry.Name()), onlyEntry, mode
	}

	return "", nil, ""
}

func (handler documentHandler) documentMode(fileName string) (render.Mode, bool) {
	mode, found := render.ModeForPath(fileName)
	if !found {
		return "", false
	}
	if mode == render.ModeMarkdown && !handler.enableMarkdown {
		return "", false
	}
	return mode, true
}

func isRawRequest(request *http.Request) bool {
	rawValue := request.URL.Query().Get(rawQueryParameter)
	if rawValue == "" {
		return false
	}
	enabled, parseErr := strconv.ParseBool(rawValue)
	return parseErr == nil && enabled
}

func directoryIndexExists(fileSystem http.FileSystem, directoryPath string) bool {
	for _, candidateName := range directoryIndexCandidates {
		fileHandle, openErr := fileSystem.Open(pathpkg.Join(directoryPath, candidateName))
		if openErr != nil {
			continue
		}
		candidateInfo, statErr := fileHandle.Stat()
		fileHandle.Close()
		if statErr != nil || candidateInfo.IsDir() {
			continue
		}
		return true
	}
	return false
}

// newDirectoryGuardHandler refuses directory listings; directories with an index page still resolve.
func newDirectoryGuardHandler(next http.Handler, fileSystem http.FileSystem) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		if strings.HasSuffix(request.URL.Path, "/") && !directoryIndexExists(fileSystem, request.URL.Path) {
			http.Error(responseWriter, errorMessageDirectoryListingDisabled, http.StatusForbidden)
			return
		}
		next.ServeHTTP(responseWriter, request)
	})
}
