package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tyemirov/linebreaks/internal/server"
	"github.com/tyemirov/linebreaks/internal/serverdetails"
	"github.com/tyemirov/linebreaks/pkg/logging"
)

const (
	logFieldSignal           = "signal"
	logMessageReceivedSignal = "received signal"
)

var allowedInitialServeFileExtensions = map[string]struct{}{
	".html":     {},
	".htm":      {},
	".md":       {},
	".markdown": {},
	".txt":      {},
	".text":     {},
}

// ServeConfiguration is the validated configuration of the serve command.
type ServeConfiguration struct {
	BindAddress             string
	Port                    string
	DirectoryPath           string
	ProtocolVersion         string
	TLSCertificatePath      string
	TLSPrivateKeyPath       string
	DisableDirectoryListing bool
	EnableMarkdown          bool
	EnablePreview           bool
	InitialFileRelativePath string
	LoggingType             string
}

func newServeCommand(resources *applicationResources) *cobra.Command {
	serveCommand := &cobra.Command{
		Use:   "serve [port|file]",
		Short: "Serve a directory, rendering text and Markdown documents as HTML",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return prepareServeConfiguration(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	serveFlags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configureServeFlags(serveFlags, resources.configurationManager)
	serveCommand.Flags().AddFlagSet(serveFlags)

	return serveCommand
}

func configureServeFlags(flagSet *pflag.FlagSet, configurationManager *viper.Viper) {
	flagSet.String(flagNameBindAddress, configurationManager.GetString(configKeyServeBindAddress), "Specify bind address")
	flagSet.String(flagNamePort, configurationManager.GetString(configKeyServePort), "Port to listen on")
	flagSet.String(flagNameDirectory, configurationManager.GetString(configKeyServeDirectory), "Serve files from this directory")
	flagSet.String(flagNameProtocol, configurationManager.GetString(configKeyServeProtocol), "HTTP protocol version (HTTP/1.0 or HTTP/1.1)")
	flagSet.String(flagNameTLSCertificatePath, configurationManager.GetString(configKeyServeTLSCertificatePath), "Path to TLS certificate (PEM)")
	flagSet.String(flagNameTLSKeyPath, configurationManager.GetString(configKeyServeTLSKeyPath), "Path to TLS private key (PEM)")
	flagSet.Bool(flagNameNoMarkdown, configurationManager.GetBool(configKeyServeNoMarkdown), "Disable Markdown rendering")
	flagSet.Bool(flagNameNoPreview, configurationManager.GetBool(configKeyServeNoPreview), "Disable the live preview endpoint")
	flagSet.Bool(flagNameNoListing, configurationManager.GetBool(configKeyServeNoListing), "Refuse directory listings")
	_ = configurationManager.BindPFlag(configKeyServeBindAddress, flagSet.Lookup(flagNameBindAddress))
	_ = configurationManager.BindPFlag(configKeyServePort, flagSet.Lookup(flagNamePort))
	_ = configurationManager.BindPFlag(configKeyServeDirectory, flagSet.Lookup(flagNameDirectory))
	_ = configurationManager.BindPFlag(configKeyServeProtocol, flagSet.Lookup(flagNameProtocol))
	_ = configurationManager.BindPFlag(configKeyServeTLSCertificatePath, flagSet.Lookup(flagNameTLSCertificatePath))
	_ = configurationManager.BindPFlag(configKeyServeTLSKeyPath, flagSet.Lookup(flagNameTLSKeyPath))
	_ = configurationManager.BindPFlag(configKeyServeNoMarkdown, flagSet.Lookup(flagNameNoMarkdown))
	_ = configurationManager.BindPFlag(configKeyServeNoPreview, flagSet.Lookup(flagNameNoPreview))
	_ = configurationManager.BindPFlag(configKeyServeNoListing, flagSet.Lookup(flagNameNoListing))
}

func prepareServeConfiguration(cmd *cobra.Command, args []string) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	configurationManager := resources.configurationManager

	bindAddress := strings.TrimSpace(configurationManager.GetString(configKeyServeBindAddress))
	directoryPath := strings.TrimSpace(configurationManager.GetString(configKeyServeDirectory))
	if directoryPath == "" {
		directoryPath = "."
	}

	initialFileRelativePath := ""
	portValue := strings.TrimSpace(configurationManager.GetString(configKeyServePort))
	if len(args) == 1 {
		argumentValue := strings.TrimSpace(args[0])
		if argumentValue != "" {
			portCandidate, parseErr := strconv.Atoi(argumentValue)
			if parseErr == nil && portCandidate > 0 && portCandidate <= 65535 {
				portValue = argumentValue
			} else {
				resolvedDirectory, resolvedFile, resolveErr := resolveInitialServeFile(argumentValue)
				if resolveErr != nil {
					return resolveErr
				}
				directoryPath = resolvedDirectory
				initialFileRelativePath = resolvedFile
			}
		}
	}
	absoluteDirectory, absoluteErr := filepath.Abs(directoryPath)
	if absoluteErr != nil {
		return fmt.Errorf("resolve directory path: %w", absoluteErr)
	}
	statInfo, statErr := os.Stat(absoluteDirectory)
	if statErr != nil {
		return fmt.Errorf("stat directory: %w", statErr)
	}
	if !statInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absoluteDirectory)
	}

	protocolValue := strings.ToUpper(strings.TrimSpace(configurationManager.GetString(configKeyServeProtocol)))
	if protocolValue != "HTTP/1.0" && protocolValue != "HTTP/1.1" {
		return fmt.Errorf("unsupported protocol %s", protocolValue)
	}

	if portValue == "" {
		portValue = defaultServePort
	}
	portNumber, portErr := strconv.Atoi(portValue)
	if portErr != nil || portNumber <= 0 || portNumber > 65535 {
		return fmt.Errorf("invalid port %s", portValue)
	}

	tlsCertificatePath := strings.TrimSpace(configurationManager.GetString(configKeyServeTLSCertificatePath))
	tlsKeyPath := strings.TrimSpace(configurationManager.GetString(configKeyServeTLSKeyPath))
	if (tlsCertificatePath == "") != (tlsKeyPath == "") {
		return errors.New("tls certificate and key must be provided together")
	}
	if tlsCertificatePath != "" {
		if _, certErr := os.Stat(tlsCertificatePath); certErr != nil {
			return fmt.Errorf("stat tls certificate: %w", certErr)
		}
		if _, keyErr := os.Stat(tlsKeyPath); keyErr != nil {
			return fmt.Errorf("stat tls private key: %w", keyErr)
		}
	}

	loggingTypeValue, normalizeErr := logging.NormalizeType(configurationManager.GetString(configKeyLoggingType))
	if normalizeErr != nil {
		return normalizeErr
	}

	serveConfiguration := ServeConfiguration{
		BindAddress:             bindAddress,
		Port:                    portValue,
		DirectoryPath:           absoluteDirectory,
		ProtocolVersion:         protocolValue,
		TLSCertificatePath:      tlsCertificatePath,
		TLSPrivateKeyPath:       tlsKeyPath,
		DisableDirectoryListing: configurationManager.GetBool(configKeyServeNoListing),
		EnableMarkdown:          !configurationManager.GetBool(configKeyServeNoMarkdown),
		EnablePreview:           !configurationManager.GetBool(configKeyServeNoPreview),
		InitialFileRelativePath: initialFileRelativePath,
		LoggingType:             loggingTypeValue,
	}

	if loggerErr := resources.updateLogger(loggingTypeValue); loggerErr != nil {
		return fmt.Errorf("configure logger: %w", loggerErr)
	}

	cmd.SetContext(context.WithValue(cmd.Context(), contextKeyServeConfiguration, serveConfiguration))
	return nil
}

func runServe(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	serveConfigurationValue := cmd.Context().Value(contextKeyServeConfiguration)
	if serveConfigurationValue == nil {
		return errors.New("serve configuration not initialized")
	}
	serveConfiguration, ok := serveConfigurationValue.(ServeConfiguration)
	if !ok {
		return errors.New("serve configuration has unexpected type")
	}
	documentRenderer, rendererErr := resources.renderer()
	if rendererErr != nil {
		return rendererErr
	}

	fileServerConfiguration := server.FileServerConfiguration{
		BindAddress:             serveConfiguration.BindAddress,
		Port:                    serveConfiguration.Port,
		DirectoryPath:           serveConfiguration.DirectoryPath,
		ProtocolVersion:         serveConfiguration.ProtocolVersion,
		DisableDirectoryListing: serveConfiguration.DisableDirectoryListing,
		EnableMarkdown:          serveConfiguration.EnableMarkdown,
		EnablePreview:           serveConfiguration.EnablePreview,
		InitialFileRelativePath: serveConfiguration.InitialFileRelativePath,
		LoggingType:             serveConfiguration.LoggingType,
	}
	if serveConfiguration.TLSCertificatePath != "" {
		fileServerConfiguration.TLS = &server.TLSConfiguration{
			CertificatePath: serveConfiguration.TLSCertificatePath,
			PrivateKeyPath:  serveConfiguration.TLSPrivateKeyPath,
		}
	}

	fileServerInstance := server.NewFileServer(resources.loggingService, serverdetails.NewServingAddressFormatter(), documentRenderer)
	serveContext, cancel := createSignalContext(cmd.Context(), resources.loggingService)
	defer cancel()

	return fileServerInstance.Serve(serveContext, fileServerConfiguration)
}

func loadConfigurationFile(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	configurationManager := resources.configurationManager
	configFilePath, flagErr := cmd.Flags().GetString(flagNameConfigFile)
	if flagErr != nil {
		return fmt.Errorf("read config flag: %w", flagErr)
	}
	if configFilePath != "" {
		configurationManager.SetConfigFile(configFilePath)
	} else {
		configurationManager.AddConfigPath(resources.defaultConfigDirPath)
		configurationManager.SetConfigName(defaultConfigFileName)
		configurationManager.SetConfigType(defaultConfigFileType)
	}
	if readErr := configurationManager.ReadInConfig(); readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return fmt.Errorf("read configuration: %w", readErr)
		}
	}
	return nil
}

func resolveInitialServeFile(candidatePath string) (string, string, error) {
	absolutePath, absoluteErr := filepath.Abs(candidatePath)
	if absoluteErr != nil {
		return "", "", fmt.Errorf("resolve initial file path: %w", absoluteErr)
	}
	fileInfo, statErr := os.Stat(absolutePath)
	if statErr != nil {
		return "", "", fmt.Errorf("stat initial file: %w", statErr)
	}
	if fileInfo.IsDir() {
		return "", "", fmt.Errorf("initial file is a directory: %s", absolutePath)
	}
	extension := strings.ToLower(filepath.Ext(fileInfo.Name()))
	if _, allowed := allowedInitialServeFileExtensions[extension]; !allowed {
		return "", "", fmt.Errorf("unsupported initial file extension %s", extension)
	}
	return filepath.Dir(absolutePath), fileInfo.Name(), nil
}

func getApplicationResources(cmd *cobra.Command) (*applicationResources, error) {
	resourceValue := cmd.Context().Value(contextKeyApplicationResources)
	if resourceValue == nil {
		return nil, errors.New("application resources not configured")
	}
	resources, ok := resourceValue.(*applicationResources)
	if !ok {
		return nil, errors.New("invalid application resources type")
	}
	return resources, nil
}

func createSignalContext(parent context.Context, loggingService *logging.Service) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			return
		case receivedSignal := <-signalChannel:
			if loggingService != nil {
				loggingService.Info(logMessageReceivedSignal, logging.String(logFieldSignal, receivedSignal.String()))
			}
			cancel()
		}
	}()

	return ctx, func() {
		signal.Stop(signalChannel)
		cancel()
	}
}
