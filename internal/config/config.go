// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，仅由 main 使用；其余组件通过构造函数注入所需的子配置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Tika        TikaConfig        `mapstructure:"tika"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Mode        string `mapstructure:"mode"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
	// SeedDir 非空时，启动时将该目录下的 PDF 文件入库（按 ID 覆盖，重复导入是幂等的）
	SeedDir string `mapstructure:"seed_dir"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// 入库与查询共用同一份配置，保证向量维度一致。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与无检索结果时的占位文本。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	NoResultText string `mapstructure:"no_result_text"`
}

// VectorStoreConfig 选择向量库实现，并存储各实现的连接参数。
type VectorStoreConfig struct {
	Provider      string              `mapstructure:"provider"` // pinecone | elasticsearch | chromem
	Namespace     string              `mapstructure:"namespace"`
	Timeout       time.Duration       `mapstructure:"timeout"`
	Pinecone      PineconeConfig      `mapstructure:"pinecone"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Chromem       ChromemConfig       `mapstructure:"chromem"`
}

// PineconeConfig 存储 Pinecone 数据面接口的配置。
type PineconeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Host   string `mapstructure:"host"`
	Index  string `mapstructure:"index"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	Insecure  bool   `mapstructure:"insecure"`
}

// ChromemConfig 存储内嵌向量库 chromem 的配置。Path 为空时仅保存在内存中。
type ChromemConfig struct {
	Path     string `mapstructure:"path"`
	Compress bool   `mapstructure:"compress"`
}

// IngestionConfig 存储入库流程的参数。
type IngestionConfig struct {
	Extractor        string `mapstructure:"extractor"`   // native | tika
	Granularity      string `mapstructure:"granularity"` // chunk | page
	ChunkSize        int    `mapstructure:"chunk_size"`
	ChunkOverlap     int    `mapstructure:"chunk_overlap"`
	UpsertBatchSize  int    `mapstructure:"upsert_batch_size"`
	EmbedConcurrency int    `mapstructure:"embed_concurrency"`
}

// RetrievalConfig 存储检索流程的参数。
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// 环境变量中的密钥，覆盖配置文件中的同名项。
var secretEnvBindings = map[string][]string{
	"embedding.api_key":                    {"EMBEDDING_API_KEY", "OPENAI_API_KEY"},
	"llm.api_key":                          {"LLM_API_KEY", "OPENAI_API_KEY"},
	"vector_store.pinecone.api_key":        {"PINECONE_API_KEY"},
	"vector_store.elasticsearch.password":  {"ELASTICSEARCH_PASSWORD"},
	"vector_store.elasticsearch.addresses": {"ELASTICSEARCH_ADDRESSES"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 32)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.max_tokens", 500)
	v.SetDefault("llm.prompt.rules", DefaultPromptRules)
	v.SetDefault("llm.prompt.no_result_text", DefaultNoResultText)

	v.SetDefault("vector_store.provider", "pinecone")
	v.SetDefault("vector_store.namespace", "pdfNamespace")
	v.SetDefault("vector_store.pinecone.index", "chattopdf")
	v.SetDefault("vector_store.elasticsearch.index_name", "chattopdf")

	v.SetDefault("ingestion.extractor", "native")
	v.SetDefault("ingestion.granularity", "chunk")
	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.chunk_overlap", 200)
	v.SetDefault("ingestion.upsert_batch_size", 100)
	v.SetDefault("ingestion.embed_concurrency", 8)

	v.SetDefault("retrieval.top_k", 3)
}

const (
	// DefaultPromptRules 是系统消息中位于上下文之前的指令。
	DefaultPromptRules = "You are a helpful assistant that answers questions based on the provided context. " +
		"Use the following context to answer the user's question. If the context doesn't " +
		"contain relevant information, say so."
	// DefaultNoResultText 是检索无结果时注入的上下文。
	DefaultNoResultText = "No relevant results found."
)

// Load 读取指定路径的 YAML 文件（路径为空时只使用默认值与环境变量）并返回解析后的配置。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATPDF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range secretEnvBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	switch c.VectorStore.Provider {
	case "pinecone", "elasticsearch", "chromem":
	default:
		return fmt.Errorf("未知的 vector_store.provider: %q", c.VectorStore.Provider)
	}
	switch c.Ingestion.Granularity {
	case "chunk", "page":
	default:
		return fmt.Errorf("未知的 ingestion.granularity: %q", c.Ingestion.Granularity)
	}
	switch c.Ingestion.Extractor {
	case "native", "tika":
	default:
		return fmt.Errorf("未知的 ingestion.extractor: %q", c.Ingestion.Extractor)
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("ingestion.chunk_size 必须大于 0")
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.chunk_overlap 必须在 [0, chunk_size) 范围内")
	}
	if c.Ingestion.UpsertBatchSize <= 0 {
		return fmt.Errorf("ingestion.upsert_batch_size 必须大于 0")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k 必须大于 0")
	}
	return nil
}

// Init 初始化配置加载，出错时直接 panic，供 main 使用。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
