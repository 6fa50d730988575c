package config

import "gopkg.in/yaml.v3"

// exampleDoc mirrors the environment-variable settings operators actually
// configure, as a commentable YAML artifact: `--print-example-config`
// dumps this so a new deployment has something to copy from instead of
// reverse-engineering the environment variable list from source.
type exampleDoc struct {
	AppEnv   string `yaml:"app_env"`
	LogLevel string `yaml:"log_level"`

	Telegram struct {
		APIID     int    `yaml:"api_id"`
		APIHash   string `yaml:"api_hash"`
		AccountID string `yaml:"account_id"`
	} `yaml:"telegram"`

	Realtime struct {
		ConfigPath      string  `yaml:"config_path"`
		CapacityDefault float64 `yaml:"account_capacity_default"`
		AssignmentTick  int     `yaml:"assignment_tick_seconds"`
	} `yaml:"realtime"`

	Weight struct {
		Alpha float64 `yaml:"alpha"`
		Min   float64 `yaml:"min"`
	} `yaml:"weight"`

	LLM struct {
		APIBase   string `yaml:"api_base"`
		Model     string `yaml:"model"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"llm"`

	Scheduled struct {
		HistoryDays int `yaml:"history_days"`
	} `yaml:"scheduled"`

	Tracing struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"tracing"`
}

// ExampleConfigYAML renders the settings an operator must provide, filled
// in with the same defaults Load applies, as documentation.
func ExampleConfigYAML() ([]byte, error) {
	var doc exampleDoc
	doc.AppEnv = "production"
	doc.LogLevel = "info"
	doc.Telegram.APIID = 0
	doc.Telegram.APIHash = "<fill in>"
	doc.Telegram.AccountID = "<fill in>"
	doc.Realtime.ConfigPath = "config/realtime.json"
	doc.Realtime.CapacityDefault = 200
	doc.Realtime.AssignmentTick = 3600
	doc.Weight.Alpha = 0.7
	doc.Weight.Min = 0.05
	doc.LLM.APIBase = "https://openrouter.ai/api/v1"
	doc.LLM.Model = "openai/gpt-4o-mini"
	doc.LLM.BatchSize = 40
	doc.Scheduled.HistoryDays = 7
	doc.Tracing.OTLPEndpoint = ""

	return yaml.Marshal(doc)
}
