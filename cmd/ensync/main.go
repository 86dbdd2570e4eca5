// Package main 提供 ensync 命令行入口
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dep2p/go-ensync"
	"github.com/dep2p/go-ensync/internal/util/logger"
)

var log = logger.Logger("ensync/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖（「这次运行」连哪个 Broker、发什么）
//   JSON 配置文件：持久化配置（心跳、重连、缓存等客户端选项）
//
// ═══════════════════════════════════════════════════════════════════════════

// globalFlags 所有子命令共用的参数
type globalFlags struct {
	url        string
	accessKey  string
	configFile string
	appSecret  string
	logFile    string
	timeout    time.Duration
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.url, "url", "", "Broker 地址（ws:// 或 wss://）")
	fs.StringVar(&g.accessKey, "access-key", "", "访问密钥")
	fs.StringVar(&g.configFile, "config", "", "配置文件路径（JSON）")
	fs.StringVar(&g.appSecret, "app-secret", "", "默认解密私钥（base64）")
	fs.StringVar(&g.logFile, "log", "", "日志文件路径（默认不输出日志）")
	fs.DurationVar(&g.timeout, "timeout", 10*time.Second, "连接与发布超时")
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printHelp()
		return nil
	}

	switch args[0] {
	case "keygen":
		return runKeygen()
	case "publish":
		return runPublish(args[1:])
	case "subscribe":
		return runSubscribe(args[1:])
	case "version", "-version", "--version":
		printVersion()
		return nil
	case "help", "-h", "-help", "--help":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("未知命令 %q", args[0])
	}
}

// ============================================================================
//                              子命令
// ============================================================================

// runKeygen 生成 X25519 密钥对
func runKeygen() error {
	kp, err := ensync.GenerateKeyPair()
	if err != nil {
		return err
	}
	fmt.Printf("public:  %s\n", kp.PublicKeyString())
	fmt.Printf("secret:  %s\n", kp.SecretKeyString())
	return nil
}

// runPublish 发布一条事件
func runPublish(args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	g.register(fs)
	event := fs.String("event", "", "事件名")
	to := fs.String("to", "", "收件人（逗号分隔的 base64 公钥）")
	data := fs.String("data", "", "载荷（JSON，非法 JSON 按字符串发送）")
	headers := fs.String("headers", "", "附加头（k=v,k2=v2）")
	persist := fs.Bool("persist", false, "连接中断时等待重连后重新提交")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recipients := splitAndTrim(*to, ",")
	if *event == "" || len(recipients) == 0 {
		return errors.New("publish 需要 -event 和 -to")
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	client, err := connect(ctx, &g)
	if err != nil {
		return err
	}
	defer closeClient(client)

	var opts []ensync.PublishOption
	if h := parseHeaders(*headers); h != nil {
		opts = append(opts, ensync.WithHeaders(h))
	}
	if *persist {
		opts = append(opts, ensync.WithPersist())
	}

	idem, err := client.Publish(ctx, *event, recipients, parsePayload(*data), opts...)
	if err != nil {
		return fmt.Errorf("发布失败: %w", err)
	}
	fmt.Println(idem)
	return nil
}

// runSubscribe 订阅事件并逐行打印，直到收到退出信号
func runSubscribe(args []string) error {
	var g globalFlags
	fs := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	g.register(fs)
	event := fs.String("event", "", "事件名")
	autoAck := fs.Bool("auto-ack", false, "处理后自动确认")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *event == "" {
		return errors.New("subscribe 需要 -event")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, g.timeout)
	client, err := connect(connectCtx, &g)
	connectCancel()
	if err != nil {
		return err
	}
	defer closeClient(client)

	var opts []ensync.SubscribeOption
	if *autoAck {
		opts = append(opts, ensync.WithAutoAck())
	}
	sub, err := client.Subscribe(ctx, *event, opts...)
	if err != nil {
		return fmt.Errorf("订阅失败: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	sub.On(func(_ context.Context, e *ensync.Event) error {
		return enc.Encode(e)
	})

	fmt.Fprintf(os.Stderr, "已订阅 %s，按 Ctrl+C 退出\n", *event)
	<-ctx.Done()

	unsubCtx, unsubCancel := context.WithTimeout(context.Background(), g.timeout)
	defer unsubCancel()
	if err := sub.Unsubscribe(unsubCtx); err != nil {
		log.Warn("取消订阅失败", "event", *event, "err", err)
	}
	return nil
}

// ============================================================================
//                              连接
// ============================================================================

// connect 按 配置文件 → 环境变量 → 命令行 的顺序合并配置并连接
func connect(ctx context.Context, g *globalFlags) (*ensync.Client, error) {
	cfg := &ensync.UserConfig{}
	if g.configFile != "" {
		loaded, err := loadConfigFile(g.configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	applyEnvOverrides(cfg, os.Getenv)

	if g.url != "" {
		cfg.URL = g.url
	}
	if g.appSecret != "" {
		cfg.AppSecretKey = g.appSecret
	}
	if cfg.URL == "" {
		return nil, errors.New("需要 -url 或 ENSYNC_URL")
	}

	accessKey := g.accessKey
	if accessKey == "" {
		accessKey = accessKeyFromEnv(os.Getenv)
	}

	logging, err := setupLogging(g.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v\n", err)
	}

	opts := append(cfg.ToOptions(), ensync.WithLogging(logging))
	client, err := ensync.New(opts...)
	if err != nil {
		return nil, err
	}

	session, err := client.Connect(ctx, accessKey)
	if err != nil {
		closeClient(client)
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	log.Info("已连接", "clientId", session.ClientID, "version", ensync.Version)
	return client, nil
}

func closeClient(client *ensync.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		log.Warn("关闭客户端失败", "err", err)
	}
}

// setupLogging 设置日志输出，返回是否启用日志
//
// 未指定日志文件时关闭日志，避免干扰标准输出上的事件流。
func setupLogging(path string) (bool, error) {
	if path == "" {
		path = logFileFromEnv(os.Getenv)
	}
	if path == "" {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return false, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return false, fmt.Errorf("打开日志文件失败: %w", err)
	}

	// 文件随进程退出关闭
	logger.SetOutput(file)
	return true, nil
}

// ============================================================================
//                              信息显示
// ============================================================================

// printVersion 打印版本信息
func printVersion() {
	fmt.Println(ensync.VersionInfo())
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("ensync - EnSync 事件客户端")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  ensync keygen")
	fmt.Println("  ensync publish   -url URL -access-key KEY -event NAME -to PUB[,PUB] -data JSON")
	fmt.Println("  ensync subscribe -url URL -access-key KEY -event NAME [-auto-ack] [-app-secret SECRET]")
	fmt.Println("  ensync version")
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  ENSYNC_URL                    Broker 地址")
	fmt.Println("  ENSYNC_ACCESS_KEY             访问密钥")
	fmt.Println("  ENSYNC_APP_SECRET_KEY         默认解密私钥")
	fmt.Println("  ENSYNC_MAX_RECONNECT_ATTEMPTS 最大重连次数")
	fmt.Println("  ENSYNC_LOG_FILE               日志文件路径")
	fmt.Println()
	fmt.Println("配置优先级：命令行参数 > 环境变量 > 配置文件 > 默认值")
}
