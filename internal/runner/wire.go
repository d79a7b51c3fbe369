package runner

import (
	"net/http"

	"github.com/calebturner/arbiter/internal/model"
)

// NewDefaultRegistry builds a registry with one runner per resource type:
// remote when a base URL is configured for that type, simulated otherwise.
func NewDefaultRegistry(edgeURL, cloudURL, gpuURL string, client *http.Client) *Registry {
	reg := NewRegistry()
	for _, rt := range []struct {
		kind string
		url  string
	}{
		{model.ResourceEdge, edgeURL},
		{model.ResourceCloud, cloudURL},
		{model.ResourceGPU, gpuURL},
	} {
		if rt.url != "" {
			reg.Register(rt.kind, NewRemote(rt.url, "remote-"+rt.kind, client))
			continue
		}
		reg.Register(rt.kind, NewSimulated(rt.kind))
	}
	return reg
}
