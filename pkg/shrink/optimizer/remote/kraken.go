package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
)

const (
	// KrakenName identifies the Kraken backend.
	KrakenName = "Kraken"

	krakenEndpoint = "https://api.kraken.io/v1/upload"

	// krakenNoGain is the message Kraken answers with when nothing can be saved.
	krakenNoGain = "This image can not be optimized any further"
)

// KrakenResize asks Kraken to resize while optimizing.
type KrakenResize struct {
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Strategy string `json:"strategy"`
}

type krakenAuth struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type krakenOptions struct {
	Auth   krakenAuth    `json:"auth"`
	Wait   bool          `json:"wait"`
	Lossy  bool          `json:"lossy"`
	Resize *KrakenResize `json:"resize,omitempty"`
}

type krakenResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	KrakedURL    string  `json:"kraked_url"`
	OriginalSize float64 `json:"original_size"`
	KrakedSize   float64 `json:"kraked_size"`
}

type kraken struct {
	apiKey    string
	secretKey string
	lossy     bool
	resize    *KrakenResize
}

// NewKraken returns the Kraken.io backend. It reads KRAKEN_API_KEY,
// KRAKEN_SECRET_KEY, KRAKEN_LOSSY, KRAKEN_RESIZE_WIDTH,
// KRAKEN_RESIZE_HEIGHT and KRAKEN_RESIZE_STRATEGY on Configure.
func NewKraken(opts ...Option) *Service {
	return newService(KrakenName, "KRAKEN", krakenEndpoint, "file", &kraken{}, opts)
}

func (k *kraken) configure(env optimizer.Environment) {
	k.apiKey = env.Getenv("KRAKEN_API_KEY")
	k.secretKey = env.Getenv("KRAKEN_SECRET_KEY")
	k.lossy = optimizer.EnvBool(env, "KRAKEN_LOSSY")

	width := envInt(env, "KRAKEN_RESIZE_WIDTH")
	height := envInt(env, "KRAKEN_RESIZE_HEIGHT")
	if width <= 0 && height <= 0 {
		k.resize = nil
		return
	}

	strategy := strings.TrimSpace(env.Getenv("KRAKEN_RESIZE_STRATEGY"))
	if strategy == "" {
		strategy = "auto"
	}
	k.resize = &KrakenResize{Width: width, Height: height, Strategy: strategy}
}

func (k *kraken) fields(string) (map[string]string, error) {
	data, err := json.Marshal(krakenOptions{
		Auth:   krakenAuth{APIKey: k.apiKey, APISecret: k.secretKey},
		Wait:   true,
		Lossy:  k.lossy,
		Resize: k.resize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	return map[string]string{"data": string(data)}, nil
}

func (k *kraken) decode(body []byte) optimizer.Outcome {
	var res krakenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return optimizer.Outcome{Error: MsgInvalidResponse}
	}

	if !res.Success {
		if res.Message == "" {
			return optimizer.Outcome{Error: MsgUnknownError}
		}
		return optimizer.Outcome{Error: res.Message}
	}

	if res.Message == krakenNoGain {
		return optimizer.Outcome{}
	}

	return resultOutcome(res.KrakedURL, res.OriginalSize, res.KrakedSize)
}

func (k *kraken) clone() protocol {
	c := *k
	if k.resize != nil {
		r := *k.resize
		c.resize = &r
	}
	return &c
}

func envInt(env optimizer.Environment, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(env.Getenv(key)))
	if err != nil {
		return 0
	}
	return n
}
