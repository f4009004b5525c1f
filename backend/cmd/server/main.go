package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"collabText/backend/config"
	"collabText/backend/internal/auth"
	"collabText/backend/internal/cache"
	"collabText/backend/internal/collab"
	"collabText/backend/internal/session"
	"collabText/backend/internal/store"
	"collabText/backend/internal/ws"
)

// 退出码约定：0 干净关闭，1 绑定失败，2 持久化失败，3 鉴权协作方故障
const (
	exitOK      = 0
	exitBind    = 1
	exitPersist = 2
	exitAuth    = 3
)

func main() {
	// add-user 子命令：注册一个用户后退出
	if len(os.Args) >= 2 && os.Args[1] == "add-user" {
		os.Exit(addUser(os.Args[2:]))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	fatal := make(chan error, 1)

	fileStore, initial, err := store.NewFileStore(cfg.Document.Path, fatal)
	if err != nil {
		log.Printf("open document failed: %v", err)
		os.Exit(exitPersist)
	}

	// === 可选依赖：MySQL（用户库 + 快照历史）===
	var authenticator auth.Authenticator = auth.Open{}
	var snapshots *store.SnapshotStore
	if cfg.Mysql.DSN != "" {
		gdb, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Printf("Failed to connect to database: %v", err)
			if cfg.Auth.Required {
				os.Exit(exitAuth)
			}
		} else {
			sqlDB, err := gdb.DB()
			if err != nil {
				log.Printf("Failed to unwrap database handle: %v", err)
				if cfg.Auth.Required {
					os.Exit(exitAuth)
				}
			} else {
				snapshots = store.NewSnapshotStore(sqlDB)
				if cfg.Auth.Required {
					authenticator = auth.NewUserDB(auth.NewSQLUserStore(sqlDB))
				}
			}
		}
	} else if cfg.Auth.Required {
		log.Printf("auth required but no mysql dsn configured")
		os.Exit(exitAuth)
	}

	// === 可选依赖：Redis presence ===
	var presence cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("redis unavailable, presence disabled: %v", err)
		} else {
			presence = cache.NewRedisPresence(rdb)
			defer rdb.Close()
		}
	}

	// === 可选依赖：Kafka 操作事件流 ===
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Printf("kafka unavailable, events disabled: %v", err)
		} else {
			defer producer.Close()
			dispatcher = collab.NewKafkaDispatcher(
				producer,
				cfg.Kafka.Topic,
				collab.NewSemaphoreControl(),
				collab.KafkaDispatcherOptions{
					QueueSize:   10_000,
					Workers:     4,
					MaxRetry:    3,
					BaseBackoff: 50 * time.Millisecond,
					MaxBackoff:  1 * time.Second,
				},
			)
		}
	}

	co := session.NewCoordinator(session.Options{
		Initial:  initial,
		DocName:  cfg.Document.Path,
		Auth:     authenticator,
		File:     fileStore,
		Presence: presence,
		Events:   dispatcher,
	})

	go fileStore.RunSaver(time.Duration(cfg.Document.SaveIntervalSec)*time.Second, func() []byte {
		content := co.Document().Snapshot()
		if snapshots != nil {
			// 落盘的同时在 MySQL 留一条快照历史
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := snapshots.SaveDocumentSnapshot(ctx, cfg.Document.Path, co.Seq(), content); err != nil {
				log.Printf("snapshot history write failed: %v", err)
			}
			cancel()
		}
		return content
	})

	ln, err := net.Listen("tcp", cfg.Running.Addr)
	if err != nil {
		log.Printf("bind %s failed: %v", cfg.Running.Addr, err)
		os.Exit(exitBind)
	}
	log.Printf("listening on %s (doc=%s)", cfg.Running.Addr, cfg.Document.Path)

	go acceptLoop(ln, co)

	// websocket 桥：同一个协调器的第二个入口
	if cfg.Running.WSAddr != "" {
		r := gin.New()
		r.Use(gin.Logger())
		r.Use(gin.Recovery())
		ws.NewManager(co).Routes(r)
		go func() {
			if err := r.Run(cfg.Running.WSAddr); err != nil {
				log.Printf("websocket bridge stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	code := exitOK
	select {
	case s := <-sig:
		log.Printf("shutting down on %v", s)
	case err := <-fatal:
		log.Printf("persistence failure: %v", err)
		code = exitPersist
	}

	ln.Close()
	co.Close()
	fileStore.Close()
	// 给最后一次落盘一点时间
	time.Sleep(200 * time.Millisecond)
	os.Exit(code)
}

func acceptLoop(ln net.Listener, co *session.Coordinator) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := co.HandleConn(conn); err != nil {
				log.Printf("connection ended: %v", err)
			}
		}()
	}
}

// addUser: server add-user <username> <password>
func addUser(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: server add-user <username> <password>")
		return 1
	}
	cfg, err := config.Load()
	if err != nil || cfg.Mysql.DSN == "" {
		fmt.Fprintln(os.Stderr, "add-user needs a mysql dsn in the config")
		return exitAuth
	}
	gdb, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect database: %v\n", err)
		return exitAuth
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unwrap database: %v\n", err)
		return exitAuth
	}
	hash, err := auth.HashPassword(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash password: %v\n", err)
		return exitAuth
	}
	id, err := auth.NewSQLUserStore(sqlDB).CreateUser(context.Background(), args[0], hash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create user: %v\n", err)
		return exitAuth
	}
	fmt.Printf("created user %s (id=%d)\n", args[0], id)
	return exitOK
}
