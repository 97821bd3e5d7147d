package remote

import (
	"encoding/json"

	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
)

// SmushItName identifies the Smush.it backend.
const SmushItName = "SmushIt"

const smushItEndpoint = "http://www.smushit.com/ysmush.it/ws.php"

type smushItResponse struct {
	Source          string  `json:"src"`
	SourceSize      float64 `json:"src_size"`
	Destination     string  `json:"dest"`
	DestinationSize float64 `json:"dest_size"`
	Percent         float64 `json:"percent"`
	Error           string  `json:"error"`
}

type smushIt struct{}

// NewSmushIt returns the Smush.it backend. It needs no credentials.
func NewSmushIt(opts ...Option) *Service {
	return newService(SmushItName, "SMUSHIT", smushItEndpoint, "files", smushIt{}, opts)
}

func (smushIt) configure(optimizer.Environment) {}

func (smushIt) fields(filename string) (map[string]string, error) {
	return map[string]string{"filename": filename}, nil
}

func (smushIt) decode(body []byte) optimizer.Outcome {
	var res smushItResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return optimizer.Outcome{Error: MsgInvalidResponse}
	}
	if res.Error != "" {
		return optimizer.Outcome{Error: res.Error}
	}
	return resultOutcome(res.Destination, res.SourceSize, res.DestinationSize)
}

func (s smushIt) clone() protocol { return s }
