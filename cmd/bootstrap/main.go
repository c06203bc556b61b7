package main

import (
	"context"
	"errors"
	"os"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
	adaptermiddleware "idgov-engine/internal/adapters/http/middleware"
	adapterlogger "idgov-engine/internal/adapters/logger"
	"idgov-engine/internal/application"
	"idgov-engine/internal/infrastructure/auth"
	"idgov-engine/internal/infrastructure/dynamodb"
	"idgov-engine/internal/infrastructure/memory"
	"idgov-engine/internal/infrastructure/workflow"
	httpiface "idgov-engine/internal/interfaces/http"
	platformlambda "idgov-engine/internal/platform/lambda"
	"idgov-engine/internal/ports"
)

type config struct {
	TableName               string
	Region                  string
	UserPoolID              string
	AuthMode                adaptermiddleware.Mode
	StorageMode             string
	RunMode                 string
	RequireApproval         bool
	ImmediateExecuteCallers string
	Port                    string
}

func loadConfig() (config, error) {
	authMode, err := adaptermiddleware.ParseAuthMode()
	if err != nil {
		return config{}, err
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	storageMode := os.Getenv("STORAGE_MODE")
	if storageMode == "" {
		storageMode = "dynamodb"
	}
	runMode := os.Getenv("RUN_MODE")
	if runMode == "" {
		runMode = "server"
	}
	if runMode != "server" && runMode != "lambda" {
		return config{}, errors.New("RUN_MODE must be server or lambda")
	}
	cfg := config{
		TableName:               os.Getenv("TABLE_NAME"),
		Region:                  os.Getenv("AWS_REGION"),
		UserPoolID:              os.Getenv("COGNITO_USER_POOL_ID"),
		AuthMode:                authMode,
		StorageMode:             storageMode,
		RunMode:                 runMode,
		RequireApproval:         os.Getenv("APPROVAL_MODE") == "workflow",
		ImmediateExecuteCallers: os.Getenv("IMMEDIATE_EXECUTE_CALLERS"),
		Port:                    port,
	}
	switch cfg.StorageMode {
	case "memory":
	case "dynamodb":
		if cfg.TableName == "" || cfg.Region == "" {
			return config{}, errors.New("missing required environment variables")
		}
	default:
		return config{}, errors.New("STORAGE_MODE must be dynamodb or memory")
	}
	if cfg.AuthMode == adaptermiddleware.ModeCognito && cfg.UserPoolID == "" {
		return config{}, errors.New("COGNITO_USER_POOL_ID is required for cognito auth mode")
	}
	return cfg, nil
}

type repositories struct {
	identities    ports.IdentityRepository
	roles         ports.RoleRepository
	compositions  ports.RoleCompositionRepository
	incompatibles ports.IncompatibleRoleRepository
	nodes         ports.TreeNodeRepository
	rules         ports.AutomaticRoleRuleRepository
	contracts     ports.ContractRepository
	identityRoles ports.IdentityRoleRepository
	requests      ports.RoleRequestRepository
}

func buildRepositories(ctx context.Context, cfg config) (repositories, error) {
	if cfg.StorageMode == "memory" {
		store := memory.NewStore()
		return repositories{
			identities:    memory.NewIdentityRepository(store),
			roles:         memory.NewRoleRepository(store),
			compositions:  memory.NewRoleCompositionRepository(store),
			incompatibles: memory.NewIncompatibleRoleRepository(store),
			nodes:         memory.NewTreeNodeRepository(store),
			rules:         memory.NewAutomaticRoleRuleRepository(store),
			contracts:     memory.NewContractRepository(store),
			identityRoles: memory.NewIdentityRoleRepository(store),
			requests:      memory.NewRoleRequestRepository(store),
		}, nil
	}
	client, err := dynamodb.NewClient(ctx, cfg.Region, cfg.TableName)
	if err != nil {
		return repositories{}, err
	}
	return repositories{
		identities:    dynamodb.NewIdentityRepository(client),
		roles:         dynamodb.NewRoleRepository(client),
		compositions:  dynamodb.NewRoleCompositionRepository(client),
		incompatibles: dynamodb.NewIncompatibleRoleRepository(client),
		nodes:         dynamodb.NewTreeNodeRepository(client),
		rules:         dynamodb.NewAutomaticRoleRuleRepository(client),
		contracts:     dynamodb.NewContractRepository(client),
		identityRoles: dynamodb.NewIdentityRoleRepository(client),
		requests:      dynamodb.NewRoleRequestRepository(client),
	}, nil
}

func main() {
	logger := adapterlogger.New()

	cfg, err := loadConfig()
	if err != nil {
		logger.Error(context.Background(), "configuration error", "error", err)
		os.Exit(1)
	}
	xray.Configure(xray.Config{LogLevel: "error"})

	repos, err := buildRepositories(context.Background(), cfg)
	if err != nil {
		logger.Error(context.Background(), "failed to initialize storage", "error", err)
		os.Exit(1)
	}

	treeSvc := application.NewTreeNodeService(repos.nodes, logger)
	compositionSvc := application.NewCompositionService(repos.compositions, repos.roles, logger)
	propagator := application.NewRolePropagator(repos.rules, repos.identityRoles, treeSvc, compositionSvc, logger)
	roleSvc := application.NewRoleService(repos.roles, logger)
	identitySvc := application.NewIdentityService(repos.identities, logger)
	contractSvc := application.NewContractService(repos.contracts, repos.identities, propagator, logger)
	automaticSvc := application.NewAutomaticRoleService(repos.rules, repos.roles, repos.contracts, repos.identityRoles, treeSvc, propagator, logger)
	incompatibleSvc := application.NewIncompatibleRoleService(repos.incompatibles, repos.roles, repos.contracts, repos.identityRoles, repos.requests, compositionSvc, logger)
	requestSvc := application.NewRoleRequestService(
		repos.requests,
		repos.contracts,
		repos.roles,
		repos.identityRoles,
		compositionSvc,
		workflow.NewStaticWorkflow(cfg.RequireApproval, logger),
		auth.NewStaticPermissionChecker(cfg.ImmediateExecuteCallers),
		logger,
	)

	var cognitoHandler echo.MiddlewareFunc
	if cfg.AuthMode == adaptermiddleware.ModeCognito {
		cognitoHandler = auth.NewCognitoMiddleware(cfg.UserPoolID, cfg.Region).Handler
	}
	authMiddleware, err := adaptermiddleware.AuthMiddleware(cognitoHandler)
	if err != nil {
		logger.Error(context.Background(), "failed to initialize auth middleware", "error", err)
		os.Exit(1)
	}
	mw := httpiface.Middleware{
		Auth:          authMiddleware,
		XRay:          adaptermiddleware.XRayMiddleware("idgov-http"),
		RequestLogger: adaptermiddleware.RequestLogger(logger),
	}

	e := httpiface.NewMainRouter(
		httpiface.NewRolesHandler(roleSvc),
		httpiface.NewIdentitiesHandler(identitySvc, incompatibleSvc),
		httpiface.NewTreeNodesHandler(treeSvc),
		httpiface.NewContractsHandler(contractSvc),
		httpiface.NewAutomaticRolesHandler(automaticSvc),
		httpiface.NewCompositionsHandler(compositionSvc, incompatibleSvc),
		httpiface.NewIncompatibleRolesHandler(incompatibleSvc),
		httpiface.NewRoleRequestsHandler(requestSvc, incompatibleSvc),
		mw,
	)
	if cfg.RunMode == "lambda" {
		logger.Info(context.Background(), "starting lambda handler", "storage", cfg.StorageMode)
		awslambda.Start(platformlambda.NewLambdaHandler(e))
		return
	}
	logger.Info(context.Background(), "starting http server", "port", cfg.Port, "storage", cfg.StorageMode)
	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
