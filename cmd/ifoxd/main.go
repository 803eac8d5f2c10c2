// Command ifoxd is the ifox control-plane server: it boots the interactive
// thread runtime behind the main HTTP API, the orchestrator's admin
// provisioning surface, the webhook router, the SSE command gateway, and
// (on a second listener) the LLM translating proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/incidentfox/ifox-core/pkg/agent"
	"github.com/incidentfox/ifox-core/pkg/api"
	"github.com/incidentfox/ifox-core/pkg/cleanup"
	"github.com/incidentfox/ifox-core/pkg/config"
	"github.com/incidentfox/ifox-core/pkg/configclient"
	"github.com/incidentfox/ifox-core/pkg/credentials"
	"github.com/incidentfox/ifox-core/pkg/database"
	"github.com/incidentfox/ifox-core/pkg/events"
	"github.com/incidentfox/ifox-core/pkg/gateway"
	"github.com/incidentfox/ifox-core/pkg/installations"
	"github.com/incidentfox/ifox-core/pkg/llmproxy"
	"github.com/incidentfox/ifox-core/pkg/masking"
	"github.com/incidentfox/ifox-core/pkg/mcp"
	"github.com/incidentfox/ifox-core/pkg/models"
	"github.com/incidentfox/ifox-core/pkg/orchestrator"
	"github.com/incidentfox/ifox-core/pkg/orchestrator/httpapi"
	"github.com/incidentfox/ifox-core/pkg/orchestrator/k8s"
	"github.com/incidentfox/ifox-core/pkg/progress"
	"github.com/incidentfox/ifox-core/pkg/ragcache"
	ragcachehttpapi "github.com/incidentfox/ifox-core/pkg/ragcache/httpapi"
	"github.com/incidentfox/ifox-core/pkg/routing"
	"github.com/incidentfox/ifox-core/pkg/services"
	"github.com/incidentfox/ifox-core/pkg/session"
	ifoxslack "github.com/incidentfox/ifox-core/pkg/slack"
	"github.com/incidentfox/ifox-core/pkg/teamtoken"
	"github.com/incidentfox/ifox-core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// postgresConnString builds a libpq-style connection string for the
// NotifyListener's dedicated LISTEN/NOTIFY connection from the same fields
// database.LoadConfigFromEnv populated for the pooled ent client.
func postgresConnString(cfg database.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpPort := getEnv("HTTP_PORT", "8080")

	log.Printf("starting ifoxd (config dir: %s)", *configDir)

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}()
	entClient := dbClient.Client
	log.Println("connected to PostgreSQL")

	// --- Core event/streaming infrastructure ---
	eventPublisher := events.NewEventPublisher(dbClient.DB())
	eventService := services.NewEventService(entClient)
	catchupAdapter := events.NewEventServiceAdapter(eventService)
	connManager := events.NewConnectionManager(catchupAdapter, 5*time.Second)

	notifyListener := events.NewNotifyListener(postgresConnString(dbConfig), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		log.Fatalf("failed to start notify listener: %v", err)
	}
	connManager.SetListener(notifyListener)

	// --- Masking, MCP, warnings ---
	maskingCfg := masking.PayloadMaskingConfig{Enabled: true, PatternGroup: "security"}
	if cfg.Defaults != nil && cfg.Defaults.Masking != nil {
		maskingCfg = masking.PayloadMaskingConfig{
			Enabled:      cfg.Defaults.Masking.Enabled,
			PatternGroup: cfg.Defaults.Masking.PatternGroup,
		}
	}
	maskingService := masking.NewMaskingService(cfg.MCPServerRegistry, maskingCfg)

	warningService := services.NewSystemWarningsService()
	var mcpFactory *mcp.ClientFactory
	var healthMonitor *mcp.HealthMonitor
	var mcpExecutor agent.ToolExecutor
	if serverIDs := mcpServerIDs(cfg); len(serverIDs) > 0 {
		mcpFactory = mcp.NewClientFactory(cfg.MCPServerRegistry, maskingService)
		healthMonitor = mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry, warningService)
		healthMonitor.Start(ctx)

		executor, _, err := mcpFactory.CreateToolExecutor(ctx, serverIDs, nil)
		if err != nil {
			log.Printf("warning: MCP tool executor unavailable (%v)", err)
		} else {
			mcpExecutor = executor
		}
	}

	// --- Audit store (Module C) ---
	runService := services.NewRunService(entClient)
	auditService := services.NewAuditService(entClient)

	// Stale-run sweep: running rows older than max_age transition to the
	// terminal timeout status.
	sweeper := services.NewStaleRunSweeper(runService,
		time.Duration(getEnvInt("RUN_SWEEP_INTERVAL_SECONDS", 60))*time.Second,
		time.Duration(getEnvInt("RUN_MAX_AGE_SECONDS", 3600))*time.Second)
	sweeper.Start(ctx)

	// Retention sweep for old runs and orphaned events.
	var cleanupService *cleanup.Service
	if cfg.Retention != nil {
		cleanupService = cleanup.NewService(cfg.Retention, runService, eventService)
		cleanupService.Start(ctx)
	}

	// --- LLM client: every agent turn talks to the in-process LLM proxy so
	// credential injection and Anthropic<->OpenAI translation (Module I) sit
	// on the hot path, instead of agents holding provider credentials
	// directly. ---
	llmProxyInternalAddr := getEnv("LLM_PROXY_INTERNAL_URL", "http://127.0.0.1:"+getEnv("LLM_PROXY_PORT", "8081"))
	sandboxAuth := getEnv("SANDBOX_AUTH_TOKEN", "")
	llmClient := agent.NewHTTPLLMClient(llmProxyInternalAddr, sandboxAuth)

	var slackService *ifoxslack.Service
	if cfg.Slack != nil && cfg.Slack.Enabled {
		tokenEnv := cfg.Slack.TokenEnv
		if tokenEnv == "" {
			tokenEnv = "SLACK_BOT_TOKEN"
		}
		if botToken := os.Getenv(tokenEnv); botToken != "" {
			slackClient := ifoxslack.NewClient(botToken, cfg.Slack.Channel)
			slackService = ifoxslack.NewServiceWithClient(slackClient, cfg.DashboardURL)
		}
	}

	// --- Main HTTP API (Modules C/F/K's external surface) ---
	server := api.NewServer(cfg, dbClient, runService, connManager)
	server.SetAuditService(auditService)
	if healthMonitor != nil {
		server.SetHealthMonitor(healthMonitor)
	}
	server.SetWarningsService(warningService)
	if dashDir := getEnv("DASHBOARD_DIR", ""); dashDir != "" {
		server.SetDashboardDir(dashDir)
	}

	// --- Orchestrator & routing plane (Module D/E) mounted on the same
	// listener, guarded by admin-token middleware. ---
	configClient := configclient.New(getEnv("CONFIG_SERVICE_URL", "http://config-service.internal"), getEnv("CONFIG_SERVICE_TOKEN", ""))
	credentialStore := credentials.New(configClient)
	teamTokenStore := teamtoken.New(entClient)
	installationStore := installations.New(entClient)
	routingIndex := routing.NewEntIndex(entClient)

	licenser := orchestrator.NewTelemetryLicense(entClient, getEnvInt("LICENSE_MAX_TEAMS", 0))

	steps := []orchestrator.Step{
		orchestrator.NewConfigPatchStep(configClient, entClient),
		orchestrator.NewSlackChannelMapStep(),
		orchestrator.NewTeamTokenStep(configClient, teamTokenStore),
		orchestrator.NewBootstrapStep(configClient),
	}
	var reconciler *k8s.Reconciler
	if getEnvBool("ENABLE_K8S_RECONCILIATION", false) {
		clientset, err := newKubernetesClientset()
		if err != nil {
			log.Printf("warning: kubernetes reconciliation disabled (%v)", err)
		} else {
			reconciler = k8s.New(clientset, getEnv("K8S_NAMESPACE", "default"), getEnv("AGENT_IMAGE", "ifox-agent:latest"), getEnv("AGENT_SERVICE_HOST", "svc.cluster.local"))
			steps = append(steps,
				orchestrator.NewPipelineCronJobStep(reconciler),
				orchestrator.NewDedicatedDeploymentStep(reconciler, configClient),
			)
		}
	}

	orch := orchestrator.New(entClient, dbClient.DB(), licenser, steps...)
	agentRunner := orchestrator.NewAgentRunner(configClient, getEnv("SHARED_AGENT_URL", ""))
	agentRunner.SetRecorder(&runRecorder{runs: runService, pub: eventPublisher, masking: maskingService})

	var cronRecon orchestrator.CronJobReconciler
	var pipelineRunner orchestrator.PipelineRunner
	if reconciler != nil {
		orch.SetResourceDeleter(reconciler)
		cronRecon = reconciler
		pipelineRunner = reconciler
	}
	adminHandlers := httpapi.New(orch, agentRunner, configClient, configClient, cronRecon, pipelineRunner, teamTokenStore, routingIndex)

	adminToken := getEnv("ADMIN_TOKEN", "")
	adminGroup := server.Echo().Group("/api/v1/admin", adminAuthMiddleware(adminToken))
	adminHandlers.Register(adminGroup)
	server.SetLicenseSummary(orch.LicenseSummary)

	// Inbound webhooks authenticate per source (Slack request signing, a
	// shared secret for everything else), not with the admin token.
	webhooks := httpapi.NewWebhooks(routingIndex, agentRunner, installationStore,
		getEnv("SLACK_SIGNING_SECRET", ""), getEnv("WEBHOOK_SHARED_SECRET", ""))
	webhooks.Register(server.Echo().Group("/api/v1/webhooks"))

	// --- SSE command gateway (Module H), same listener under /gateway. ---
	gatewayServer := gateway.NewServer()
	gatewayGroup := server.Echo().Group("/gateway", adminAuthMiddleware(getEnv("GATEWAY_TOKEN", adminToken)))
	gatewayServer.Register(gatewayGroup)

	// --- RAG tree cache (Module J), same listener under /rag, only if a
	// local tree root is configured. ---
	var ragCache *ragcache.Cache
	if ragRoot := getEnv("RAG_TREES_DIR", ""); ragRoot != "" {
		var downloader ragcache.Downloader
		if bucket := getEnv("RAG_S3_BUCKET", ""); bucket != "" {
			d, err := ragcache.NewS3Downloader(ctx, getEnv("AWS_REGION", "us-east-1"), bucket)
			if err != nil {
				log.Printf("warning: RAG S3 downloader disabled (%v)", err)
			} else {
				downloader = d
			}
		}
		ragCache = ragcache.NewCache(ragcache.Config{
			LocalRoot: ragRoot,
			MaxTrees:  getEnvInt("RAG_MAX_TREES", 16),
			MaxBytes:  int64(getEnvInt("RAG_MAX_BYTES_GB", 8)) * 1024 * 1024 * 1024,
		}, downloader)
		ragGroup := server.Echo().Group("/rag", adminAuthMiddleware(adminToken))
		ragcachehttpapi.New(ragCache).Register(ragGroup)
	}

	// --- Interactive thread sessions (Module F/K): one agent session per
	// thread, progress persisted to the dashboard's event channels and the
	// final update posted to Slack when configured. Tool calls route to the
	// command gateway, the RAG cache, or MCP. ---
	threadTools := session.NewCompositeToolExecutor(gatewayServer, ragCache, mcpExecutor, getEnv("DEFAULT_CLUSTER_ID", "default"))
	progressPublisher := progress.MultiPublisher{session.NewProgressEventPublisher(eventPublisher)}
	if slackService != nil {
		progressPublisher = append(progressPublisher, ifoxslack.NewProgressPublisher(slackService))
	}
	threadManager := session.NewManager(llmClient, threadTools, progressPublisher,
		session.WithWorkspaceRoot(getEnv("AGENT_WORKSPACE_DIR", "")),
		session.WithEventPublisher(eventPublisher))
	server.SetThreadManager(threadManager)

	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring incomplete: %v", err)
	}

	// Prometheus exposition, enabled explicitly per deployment.
	if getEnvBool("ENABLE_METRICS", false) {
		metricsHandler := promhttp.Handler()
		server.Echo().GET("/metrics", func(c *echo.Context) error {
			metricsHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	ln, err := net.Listen("tcp", ":"+httpPort)
	if err != nil {
		log.Fatalf("failed to listen on :%s: %v", httpPort, err)
	}
	go func() {
		log.Printf("HTTP API listening on :%s (admin, webhooks, gateway, rag mounted on the same listener)", httpPort)
		if err := server.StartWithListener(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server stopped: %v", err)
		}
	}()

	// --- LLM translating proxy (Module I), a distinct listener: it fronts
	// arbitrary upstream models and is typically exposed to a different
	// network boundary (the sandbox's ext-authz sidecar) than the admin/API
	// surface above. ---
	llmProxyServer := buildLLMProxyServer(credentialStore, cfg)
	llmProxyPort := getEnv("LLM_PROXY_PORT", "8081")
	llmProxyLn, err := net.Listen("tcp", ":"+llmProxyPort)
	if err != nil {
		log.Fatalf("failed to listen on :%s: %v", llmProxyPort, err)
	}
	go func() {
		log.Printf("LLM proxy listening on :%s", llmProxyPort)
		httpSrv := &http.Server{Handler: llmProxyServer.Echo()}
		if err := httpSrv.Serve(llmProxyLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("llm proxy stopped: %v", err)
		}
	}()

	log.Printf("ifoxd %s ready", version.Full())

	<-ctx.Done()
	log.Println("shutting down...")

	threadManager.Stop()
	sweeper.Stop()
	if cleanupService != nil {
		cleanupService.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down api server: %v", err)
	}
	_ = llmProxyLn.Close()
	notifyListener.Stop(context.Background())
	if healthMonitor != nil {
		healthMonitor.Stop()
	}
}

// runRecorder opens the Audit Store's AgentRun row for every dispatched
// run and announces it on the run's event channel. The trigger message is
// masked before persistence — webhook payloads routinely quote secrets.
type runRecorder struct {
	runs    *services.RunService
	pub     *events.EventPublisher
	masking *masking.MaskingService
}

func (r *runRecorder) RecordDispatch(ctx context.Context, req *orchestrator.AgentRunRequest, resp *orchestrator.AgentRunResponse) {
	createReq := models.CreateRunRequest{
		ID:            resp.RunID,
		Org:           req.Org,
		Team:          req.Team,
		AgentName:     req.AgentName,
		TriggerSource: triggerSource(req),
	}
	if req.Message != "" {
		masked := r.masking.MaskPayload(req.Message)
		createReq.TriggerMessage = &masked
	}
	if req.Channel != "" {
		createReq.TriggerChannel = &req.Channel
	}
	if actor, ok := req.Metadata["actor"].(string); ok && actor != "" {
		createReq.TriggerActor = &actor
	}

	run, err := r.runs.CreateRun(ctx, createReq)
	if err != nil {
		log.Printf("warning: failed to record dispatched run %s: %v", resp.RunID, err)
		return
	}
	_ = r.pub.PublishRunStatus(ctx, run.ID, events.RunStatusPayload{
		Type:      events.EventTypeRunStatus,
		RunID:     run.ID,
		Org:       req.Org,
		Team:      req.Team,
		Status:    string(run.Status),
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

func triggerSource(req *orchestrator.AgentRunRequest) string {
	if source, ok := req.Metadata["source"].(string); ok && source != "" {
		return source
	}
	return "admin_api"
}

// mcpServerIDs lists every registered MCP server id, the executor scope for
// thread sessions.
func mcpServerIDs(cfg *config.Config) []string {
	all := cfg.MCPServerRegistry.GetAll()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	return ids
}

// adminAuthMiddleware enforces a static bearer/X-Admin-Token credential on
// the orchestrator's admin surface and the gateway's agent-facing routes.
// An empty expected token disables the check (local development only).
func adminAuthMiddleware(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if expected == "" {
				return next(c)
			}
			token := c.Request().Header.Get("X-Admin-Token")
			if token == "" {
				if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					token = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if token != expected {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid admin credential")
			}
			return next(c)
		}
	}
}

func buildLLMProxyServer(credentialStore *credentials.Store, cfg *config.Config) *llmproxy.Server {
	mode := llmproxy.ModePermissive
	if getEnvBool("LLM_PROXY_STRICT_AUTH", true) {
		mode = llmproxy.ModeStrict
	}
	secret := []byte(getEnv("SANDBOX_JWT_SECRET", ""))
	resolver := llmproxy.NewHostIntegrationResolver(map[string]string{
		"atlassian.net": "confluence",
	})
	authorizer := llmproxy.NewAuthorizer(mode, secret, credentialStore, resolver)
	upstream := llmproxy.NewHTTPUpstream()

	deploymentDefault := llmproxy.DefaultModel
	if cfg.Defaults != nil && cfg.Defaults.LLMProvider != "" {
		if provider, err := cfg.GetLLMProvider(cfg.Defaults.LLMProvider); err == nil {
			deploymentDefault = provider.Model
		}
	}
	return llmproxy.NewServer(authorizer, upstream, deploymentDefault)
}

// newKubernetesClientset builds a clientset from KUBECONFIG if set, falling
// back to in-cluster config — the same two-path construction every
// kubectl-adjacent Go tool uses.
func newKubernetesClientset() (kubernetes.Interface, error) {
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
		restCfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig %s: %w", kubeconfig, err)
		}
		return kubernetes.NewForConfig(restCfg)
	}
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}
