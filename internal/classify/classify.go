// Package classify names the upstream chat service a call is aimed at.
package classify

import "strings"

// Unknown is returned when no known service matches.
const Unknown = "Unknown"

type service struct {
	domain string
	name   string
}

// Ordered; the first matching domain wins.
var knownServices = []service{
	{domain: "openrouter.ai", name: "OpenRouter"},
	{domain: "api.openai.com", name: "OpenAI"},
	{domain: "api.anthropic.com", name: "Anthropic"},
	{domain: "generativelanguage.googleapis.com", name: "Google Gemini"},
	{domain: "api.deepseek.com", name: "DeepSeek"},
	{domain: "api.mistral.ai", name: "Mistral"},
	{domain: "api.groq.com", name: "Groq"},
	{domain: "api.together.xyz", name: "Together AI"},
	{domain: "api.x.ai", name: "xAI"},
	{domain: "dashscope.aliyuncs.com", name: "Alibaba DashScope"},
	{domain: "api.moonshot.cn", name: "Moonshot"},
	{domain: "open.bigmodel.cn", name: "Zhipu AI"},
	{domain: "api.siliconflow.cn", name: "SiliconFlow"},
}

// Classify returns the service name for a call, looking first at the Host header
// ("Host", then "host") and then at the configured upstream base URL.
func Classify(headers map[string]string, baseURL string) string {
	host, ok := headers["Host"]
	if !ok {
		host = headers["host"]
	}
	if name, ok := match(host); ok {
		return name
	}
	if name, ok := match(baseURL); ok {
		return name
	}
	return Unknown
}

func match(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, svc := range knownServices {
		if strings.Contains(s, svc.domain) {
			return svc.name, true
		}
	}
	return "", false
}
