package remote

import (
	"encoding/json"

	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
)

// PunyPngName identifies the PunyPng backend.
const PunyPngName = "PunyPng"

const punyPngEndpoint = "http://www.punypng.com/api/optimize"

type punyPngResponse struct {
	OriginalURL    string  `json:"original_url"`
	OriginalSize   float64 `json:"original_size"`
	OptimizedURL   string  `json:"optimized_url"`
	OptimizedSize  float64 `json:"optimized_size"`
	SavingsPercent float64 `json:"savings_percent"`
	Error          string  `json:"error"`
}

type punyPng struct {
	key string
}

// NewPunyPng returns the PunyPng backend. It reads PUNYPNG_KEY on Configure.
func NewPunyPng(opts ...Option) *Service {
	return newService(PunyPngName, "PUNYPNG", punyPngEndpoint, "img", &punyPng{}, opts)
}

func (p *punyPng) configure(env optimizer.Environment) {
	p.key = env.Getenv("PUNYPNG_KEY")
}

func (p *punyPng) fields(string) (map[string]string, error) {
	return map[string]string{"key": p.key}, nil
}

func (p *punyPng) decode(body []byte) optimizer.Outcome {
	var res punyPngResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return optimizer.Outcome{Error: MsgInvalidResponse}
	}
	if res.Error != "" {
		return optimizer.Outcome{Error: res.Error}
	}
	return resultOutcome(res.OptimizedURL, res.OriginalSize, res.OptimizedSize)
}

func (p *punyPng) clone() protocol {
	c := *p
	return &c
}
