package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"consultchat/data/database/mgo/mongoutil"
	"consultchat/global/config"
	"consultchat/logger"
	mid "consultchat/middleware"
	midsec "consultchat/middleware/security"
	"consultchat/module/consult/api"
	"consultchat/module/consult/service"
	"consultchat/module/consult/store"
	"consultchat/service/chat"
	"consultchat/service/chat/handlers"
	"consultchat/service/kafka"
	"consultchat/service/metrics"
	"consultchat/service/natsx"
	"consultchat/service/storage"
	rds "consultchat/service/storage/redis"
	"consultchat/service/upload"
	"consultchat/tools/ids"
	"consultchat/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	Execute()
}

// app 进程内所有组件，关闭顺序与创建相反
type app struct {
	cfg     *config.AppConfig
	st      store.Store
	srv     *chat.Server
	http    *http.Server
	grpc    *grpc.Server
	health  *health.Server
	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openStore 按 driver 选持久化实现
func openStore(ctx context.Context, cfg *config.AppConfig) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
			Uri:         cfg.Store.MongoURI,
			Database:    cfg.Store.MongoDB,
			Username:    cfg.Store.MongoUser,
			Password:    cfg.Store.MongoPass,
			MaxPoolSize: cfg.Store.MaxPoolSize,
			MaxRetry:    3,
		})
		if err != nil {
			return nil, err
		}
		return store.NewMongoStore(cli), nil
	case config.StorePostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.Store.PostgresDSN, cfg.Store.MaxPoolSize)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func newVerifier(cfg *config.AppConfig) (*security.JWT, error) {
	opts := security.DefaultOptions([]byte(cfg.Auth.JWTSecret))
	opts.Alg = cfg.Auth.JWTAlg
	opts.TTL = cfg.Auth.TokenTTL
	return security.NewJWT(opts)
}

// newNotifier NATS 不可用时退化为只打日志
func newNotifier(cfg *config.AppConfig, a *app) service.Notifier {
	if cfg.Nats.URL == "" {
		return natsx.LogNotifier{}
	}
	cli, err := natsx.NewNatsxClient(natsx.NatsxConfig{
		Servers: []string{cfg.Nats.URL},
		Name:    "consultchat-" + strconv.FormatInt(cfg.NodeID, 10),
	})
	if err != nil {
		logger.Warn("nats unavailable, push notices are logged only", zap.Error(err))
		return natsx.LogNotifier{}
	}
	a.onClose(func() { _ = cli.Close() })
	return natsx.NewPushNotifier(natsx.NewNatsxProducer(cli), cfg.Nats.SubjectPrefix)
}

func newBlobStore(ctx context.Context, cfg *config.AppConfig) (upload.BlobStore, error) {
	if cfg.Upload.Driver == config.UploadS3 {
		s3, err := upload.NewS3Store(ctx, cfg.Upload.Bucket, cfg.Upload.Endpoint, cfg.Upload.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := upload.NewLocalStore(cfg.Upload.Dir, cfg.Upload.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func buildApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if err := ids.SetNodeID(cfg.NodeID); err != nil {
		return nil, err
	}
	jwt, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	a.st = st
	a.onClose(func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(cctx)
	})
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	mutations := service.NewMutationService(st, service.WithNotifier(newNotifier(cfg, a)))
	rooms := service.NewRoomService(st, mutations.Sequencer())
	coll := metrics.New()

	var (
		mirror  chat.PresenceMirror
		cluster api.PresenceLookup
	)
	if cfg.Redis.Addr != "" {
		rdb, err := rds.Open(ctx, rds.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.onClose(func() { _ = rdb.Close() })
		m := storage.NewRedisPresenceMirror(storage.RedisKV{C: rdb}, storage.MirrorConfig{
			NodeID: strconv.FormatInt(cfg.NodeID, 10),
		})
		a.onClose(m.Close)
		mirror, cluster = m, m
	}

	srv := chat.NewServer(chat.Deps{
		Verifier:  jwt,
		Doctors:   st,
		Mutations: mutations,
		Mirror:    mirror,
		Metrics:   coll,
		Conf: chat.ConnConf{
			SendBuffer:     cfg.Chat.SendBuffer,
			EventsPerSec:   cfg.Chat.EventsPerSec,
			EventBurst:     cfg.Chat.EventBurst,
			TypingInterval: cfg.Chat.TypingInterval,
			ReadLimit:      cfg.Chat.ReadLimit,
			PingPeriod:     cfg.Chat.PingPeriod,
			PongWait:       cfg.Chat.PongWait,
			WriteWait:      cfg.Chat.WriteWait,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
	})
	a.srv = srv
	a.onClose(srv.Close)
	handlers.RegisterAll(srv)
	mutations.OnCommit(srv.OnMutation)
	rooms.OnStatusChange(srv.OnRoomStatus)

	if len(cfg.Kafka.Brokers) > 0 {
		kc := kafka.DefaultConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.Topic = cfg.Kafka.Topic
		kc.ClientID = cfg.Kafka.ClientID
		kcli, err := kafka.Dial(kc)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		sink := kafka.NewAuditSink(kcli.Producer, kc.Topic, kc.Buffer)
		// 先停 sink 再关生产者
		a.onClose(func() { _ = kcli.Close() })
		a.onClose(sink.Close)
		mutations.OnCommit(sink.Hook)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	// ---- HTTP ----
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog())
	mm := mid.NewManager()
	mm.Add(mid.Origin(cfg.Server.AllowedOrigins))
	r.Use(mm.Use())

	auth := midsec.Middleware(midsec.Options{Verifier: jwt, Doctors: st})
	routes := mid.Routes{R: r, Auth: auth}

	r.GET(cfg.Server.WSPath, srv.HandleWS)
	(&api.Controller{Rooms: rooms, Doctors: st, Online: srv.Presence(), Cluster: cluster}).Register(routes)
	up := &upload.Handler{Store: blobs, MaxBytes: cfg.Upload.MaxBytes, MaxImageDim: cfg.Upload.MaxImageDim}
	routes.POST("/upload/file", up.Upload, mid.RouteOpt{})
	if cfg.Upload.Driver == config.UploadLocal {
		r.Static("/files", cfg.Upload.Dir)
	}
	r.GET("/metrics", gin.WrapH(coll.Handler()))
	r.GET("/healthz", func(c *gin.Context) { mid.OK(c, gin.H{"status": "ok"}) })

	a.http = &http.Server{Addr: cfg.Server.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	// ---- gRPC health ----
	if cfg.Server.GRPCAddr != "" {
		a.grpc = grpc.NewServer()
		a.health = health.NewServer()
		healthpb.RegisterHealthServer(a.grpc, a.health)
		a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		a.health.SetServingStatus("consult.ChatGateway", healthpb.HealthCheckResponse_SERVING)
	}

	ok = true
	return a, nil
}

// run 阻塞到 ctx 结束，然后按超时优雅退出
func (a *app) run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		logger.Infof("[HTTP] listening on %s", a.cfg.Server.HTTPAddr)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Infof("[gRPC] listening on %s", a.cfg.Server.GRPCAddr)
			if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	if a.health != nil {
		a.health.Shutdown()
	}
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	// websocket 连接已被劫持，Shutdown 不会管它们
	a.srv.Close()
	if err := a.http.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if a.grpc != nil {
		a.grpc.GracefulStop()
	}
	a.close()
	return runErr
}
