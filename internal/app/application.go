package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tyemirov/linebreaks/internal/render"
	"github.com/tyemirov/linebreaks/pkg/logging"
)

type contextKey string

const (
	contextKeyApplicationResources contextKey = "application-resources"
	contextKeyServeConfiguration   contextKey = "serve-configuration"
	contextKeyRenderConfiguration  contextKey = "render-configuration"

	defaultServePort       = "8000"
	defaultProtocolVersion = "HTTP/1.1"
	defaultConfigFileName  = "config"
	defaultConfigFileType  = "yaml"
	defaultApplicationName = "linebreaks"

	flagNameConfigFile         = "config"
	flagNameLoggingType        = "logging-type"
	flagNameBindAddress        = "bind"
	flagNamePort               = "port"
	flagNameDirectory          = "directory"
	flagNameProtocol           = "protocol"
	flagNameTLSCertificatePath = "tls-cert"
	flagNameTLSKeyPath         = "tls-key"
	flagNameNoMarkdown         = "no-md"
	flagNameNoPreview          = "no-preview"
	flagNameNoListing          = "no-listing"
	flagNameRenderMode         = "mode"
	flagNameRenderDocument     = "document"
	flagNameRenderTitle        = "title"
	flagNameRenderOutput       = "output"

	configKeyLoggingType             = "logging.type"
	configKeyServeBindAddress        = "serve.bind_address"
	configKeyServeDirectory          = "serve.directory"
	configKeyServeProtocol           = "serve.protocol"
	configKeyServePort               = "serve.port"
	configKeyServeTLSCertificatePath = "serve.tls_certificate"
	configKeyServeTLSKeyPath         = "serve.tls_private_key"
	configKeyServeNoMarkdown         = "serve.no_markdown"
	configKeyServeNoPreview          = "serve.no_preview"
	configKeyServeNoListing          = "serve.no_listing"
	configKeyRenderMode              = "render.mode"
	configKeyRenderDocument          = "render.document"
	configKeyRenderTitle             = "render.title"
	configKeyRenderOutput            = "render.output"

	logMessageFailedInitializeLogger = "failed to initialize logger"
	logMessageResolveUserConfigDir   = "resolve user config directory"
	logMessageCommandExecutionFailed = "command execution failed"
)

type applicationResources struct {
	configurationManager *viper.Viper
	loggingService       *logging.Service
	defaultConfigDirPath string
	documentRenderer     *render.Renderer
}

func (resources *applicationResources) updateLogger(loggingType string) error {
	normalizedType, err := logging.NormalizeType(loggingType)
	if err != nil {
		return err
	}
	if resources.loggingService != nil && resources.loggingService.Type() == normalizedType {
		return nil
	}
	service, err := logging.NewService(normalizedType)
	if err != nil {
		return err
	}
	if resources.loggingService != nil {
		_ = resources.loggingService.Sync()
	}
	resources.loggingService = service
	return nil
}

// renderer builds the shared document renderer on first use.
func (resources *applicationResources) renderer() (*render.Renderer, error) {
	if resources.documentRenderer != nil {
		return resources.documentRenderer, nil
	}
	documentRenderer, err := render.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	resources.documentRenderer = documentRenderer
	return documentRenderer, nil
}

func newConfigurationManager(applicationConfigDir string) *viper.Viper {
	configurationManager := viper.New()
	configurationManager.SetEnvPrefix(strings.ToUpper(defaultApplicationName))
	configurationManager.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configurationManager.AutomaticEnv()

	configurationManager.SetDefault(configKeyLoggingType, logging.TypeConsole)
	configurationManager.SetDefault(configKeyServeBindAddress, "")
	configurationManager.SetDefault(configKeyServeDirectory, ".")
	configurationManager.SetDefault(configKeyServeProtocol, defaultProtocolVersion)
	configurationManager.SetDefault(configKeyServePort, defaultServePort)
	configurationManager.SetDefault(configKeyServeTLSCertificatePath, "")
	configurationManager.SetDefault(configKeyServeTLSKeyPath, "")
	configurationManager.SetDefault(configKeyServeNoMarkdown, false)
	configurationManager.SetDefault(configKeyServeNoPreview, false)
	configurationManager.SetDefault(configKeyServeNoListing, false)
	configurationManager.SetDefault(configKeyRenderMode, "")
	configurationManager.SetDefault(configKeyRenderDocument, false)
	configurationManager.SetDefault(configKeyRenderTitle, "")
	configurationManager.SetDefault(configKeyRenderOutput, "")
	return configurationManager
}

// Execute runs the CLI using the provided context and arguments, returning an exit code.
func Execute(ctx context.Context, arguments []string) int {
	initialService, err := logging.NewService(logging.TypeConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", logMessageFailedInitializeLogger, err)
		return 1
	}

	userConfigDir, userConfigErr := os.UserConfigDir()
	if userConfigErr != nil {
		initialService.Error(logMessageResolveUserConfigDir, userConfigErr)
		return 1
	}
	applicationConfigDir := filepath.Join(userConfigDir, defaultApplicationName)
	configurationManager := newConfigurationManager(applicationConfigDir)

	resources := &applicationResources{
		configurationManager: configurationManager,
		loggingService:       initialService,
		defaultConfigDirPath: applicationConfigDir,
	}
	if err := resources.updateLogger(configurationManager.GetString(configKeyLoggingType)); err != nil {
		resources.loggingService = initialService
		resources.loggingService.Error(logMessageFailedInitializeLogger, err)
		return 1
	}
	defer func() {
		if resources.loggingService != nil {
			_ = resources.loggingService.Sync()
		}
	}()

	rootCommand := newRootCommand(resources)
	rootCommand.SetContext(context.WithValue(ctx, contextKeyApplicationResources, resources))
	rootCommand.SetArgs(arguments)

	if executionErr := rootCommand.Execute(); executionErr != nil {
		resources.loggingService.Error(logMessageCommandExecutionFailed, executionErr)
		return 1
	}

	return 0
}
