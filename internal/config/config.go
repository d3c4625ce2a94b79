package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// 环境变量中的密钥优先于配置文件
const (
	EnvLLMAPIKey      = "GROQ_API_KEY"
	EnvComposioAPIKey = "COMPOSIO_API_KEY"
)

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type Server struct {
	Addr        string `yaml:"Addr"`
	MaxUploadMB int64  `yaml:"MaxUploadMB"` // 单次上传大小上限，0 表示不限制
}

type Upload struct {
	Dir           string `yaml:"Dir"`           // 上传文件保存目录，如 csv_files
	NamingMode    string `yaml:"NamingMode"`    // "original" / "uuid"
	RetentionDays int    `yaml:"RetentionDays"` // 上传文件与运行记录保留天数，0 表示不清理
}

type LLM struct {
	BaseURL        string  `yaml:"BaseURL"` // 兼容 OpenAI API 的端点，默认 Groq
	APIKey         string  `yaml:"APIKey"`
	Model          string  `yaml:"Model"` // 如 llama3-70b-8192
	Temperature    float32 `yaml:"Temperature"`
	MaxTokens      int     `yaml:"MaxTokens"`      // 单次回复最大 token 数
	TimeoutSeconds int     `yaml:"TimeoutSeconds"` // 单次请求超时，默认 300
}

type Analysis struct {
	MaxRounds         int    `yaml:"MaxRounds"`
	SummaryMethod     string `yaml:"SummaryMethod"` // "tagged" / "last_msg"
	SendIntroductions bool   `yaml:"SendIntroductions"`
	MaxFileBytes      int64  `yaml:"MaxFileBytes"` // 文件工具单次读取上限
}

type Publish struct {
	Backend           string `yaml:"Backend"` // "composio" / "googledocs"
	DocumentTitle     string `yaml:"DocumentTitle"`
	MaxRounds         int    `yaml:"MaxRounds"`
	SendIntroductions bool   `yaml:"SendIntroductions"`
}

type Composio struct {
	BaseURL            string `yaml:"BaseURL"`
	APIKey             string `yaml:"APIKey"`
	UserID             string `yaml:"UserID"`
	ConnectedAccountID string `yaml:"ConnectedAccountID"`
}

type GoogleDocs struct {
	CredentialsFile string `yaml:"CredentialsFile"` // 服务账号 JSON 文件
}

type Database struct {
	Path string `yaml:"Path"`
}

type Scheduler struct {
	Cron string `yaml:"Cron"` // 清理任务 cron 表达式，如 "0 3 * * *"
}

type Log struct {
	Dir      string `yaml:"Dir"`
	Filename string `yaml:"Filename"`
	Level    string `yaml:"Level"`
}

type Config struct {
	Server     Server     `yaml:"Server"`
	Upload     Upload     `yaml:"Upload"`
	Sock5Proxy Sock5Proxy `yaml:"Sock5Proxy"`
	LLM        LLM        `yaml:"LLM"`
	Analysis   Analysis   `yaml:"Analysis"`
	Publish    Publish    `yaml:"Publish"`
	Composio   Composio   `yaml:"Composio"`
	GoogleDocs GoogleDocs `yaml:"GoogleDocs"`
	Database   Database   `yaml:"Database"`
	Scheduler  Scheduler  `yaml:"Scheduler"`
	Log        Log        `yaml:"Log"`
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 配置，依次应用默认值、环境变量并校验
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = "csv_files"
	}
	if c.Upload.NamingMode == "" {
		c.Upload.NamingMode = "original"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3-70b-8192"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4000
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 300
	}
	if c.Analysis.MaxRounds == 0 {
		c.Analysis.MaxRounds = 5
	}
	if c.Analysis.SummaryMethod == "" {
		c.Analysis.SummaryMethod = "tagged"
	}
	if c.Analysis.MaxFileBytes == 0 {
		c.Analysis.MaxFileBytes = 256 * 1024
	}
	if c.Publish.Backend == "" {
		c.Publish.Backend = "composio"
	}
	if c.Publish.DocumentTitle == "" {
		c.Publish.DocumentTitle = "User Feedback Report"
	}
	if c.Publish.MaxRounds == 0 {
		c.Publish.MaxRounds = 5
	}
	if c.Composio.BaseURL == "" {
		c.Composio.BaseURL = "https://backend.composio.dev/api/v3"
	}
	if c.Composio.UserID == "" {
		c.Composio.UserID = "default"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/sqlite.db"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Filename == "" {
		c.Log.Filename = "csv-report.log"
	}
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvComposioAPIKey); v != "" {
		c.Composio.APIKey = v
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 LLM
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM.APIKey 不能为空（或设置环境变量 %s）", EnvLLMAPIKey)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM.BaseURL 不能为空")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM.Model 不能为空")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM.MaxTokens 必须大于 0")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("LLM.TimeoutSeconds 必须大于 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM.Temperature 必须在 0 ~ 2 之间")
	}

	// 验证 Upload
	if c.Upload.NamingMode != "original" && c.Upload.NamingMode != "uuid" {
		return fmt.Errorf("Upload.NamingMode 必须是 'original' 或 'uuid'")
	}
	if c.Upload.RetentionDays < 0 {
		return fmt.Errorf("Upload.RetentionDays 必须 >= 0")
	}
	if c.Server.MaxUploadMB < 0 {
		return fmt.Errorf("Server.MaxUploadMB 必须 >= 0")
	}

	// 验证工作流
	if c.Analysis.MaxRounds < 2 {
		return fmt.Errorf("Analysis.MaxRounds 必须 >= 2")
	}
	if c.Analysis.SummaryMethod != "tagged" && c.Analysis.SummaryMethod != "last_msg" {
		return fmt.Errorf("Analysis.SummaryMethod 必须是 'tagged' 或 'last_msg'")
	}
	if c.Analysis.MaxFileBytes < 0 {
		return fmt.Errorf("Analysis.MaxFileBytes 必须 >= 0")
	}
	if c.Publish.MaxRounds < 2 {
		return fmt.Errorf("Publish.MaxRounds 必须 >= 2")
	}

	// 验证文档后端
	switch c.Publish.Backend {
	case "composio":
		if c.Composio.APIKey == "" {
			return fmt.Errorf("Composio.APIKey 不能为空（或设置环境变量 %s）", EnvComposioAPIKey)
		}
	case "googledocs":
		if c.GoogleDocs.CredentialsFile == "" {
			return fmt.Errorf("GoogleDocs.CredentialsFile 不能为空（当 Publish.Backend 为 'googledocs' 时）")
		}
	default:
		return fmt.Errorf("Publish.Backend 必须是 'composio' 或 'googledocs'")
	}

	if c.Sock5Proxy.Enable && (c.Sock5Proxy.Host == "" || c.Sock5Proxy.Port <= 0) {
		return fmt.Errorf("Sock5Proxy 启用时 Host 和 Port 不能为空")
	}

	return nil
}
