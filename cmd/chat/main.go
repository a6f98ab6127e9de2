package main

import (
	"fmt"
	"os"
	"time"

	"chat-studio-core/internal/client"
	"chat-studio-core/internal/config"
	"chat-studio-core/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	baseURL    string
	token      string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "命令行聊天客户端",
	Long: `连接聊天服务端的命令行客户端。

不带参数时进入交互模式：
  :new               开始新会话
  :sessions          列出会话
  :open <id>         切换到会话
  :model <p>/<m>     选择模型
  :quit              退出

带参数时发送一条消息后退出：
  chat "你好"
  chat --session <id> "继续"`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "服务端地址，覆盖配置文件中的 client.base_url")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Auth-Token，覆盖配置文件中的 client.token")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")

	rootCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "会话 id")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "模型，格式为 providerId/modelName")
	rootCmd.Flags().StringVar(&uploadFlag, "upload-id", "", "已上传文件的 id")
	rootCmd.Flags().StringVar(&contentTypeFlag, "content-type", "", "已上传文件的类型，如 IMAGE、PDF")

	rootCmd.AddCommand(sessionsCmd, historyCmd, renameCmd, deleteCmd, modelsCmd)
}

var cfg *config.Config

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = loaded

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	// 终端留给对话内容，非 verbose 时日志只写文件
	if err := logger.Init(logger.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Quiet:      !verbose,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

func newClient() *client.Client {
	url := cfg.Client.BaseURL
	if baseURL != "" {
		url = baseURL
	}
	tok := cfg.Client.Token
	if token != "" {
		tok = token
	}
	timeout := cfg.Client.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return client.New(url, tok, timeout)
}
