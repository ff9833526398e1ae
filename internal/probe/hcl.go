package probe

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"botminder/internal/envset"
)

// Operators can replace the built-in targets with a probes.hcl file:
//
//	probe "telegram" {
//	  url     = "https://api.telegram.org/bot$${TELEGRAM_BOT_TOKEN}/getMe"
//	  timeout = "5s"
//	}
//
// $${KEY} (HCL-escaped) and $KEY references resolve against the environment
// set after parsing.

type hclProbeFile struct {
	Probes []hclProbe `hcl:"probe,block"`
}

type hclProbe struct {
	Name    string `hcl:"name,label"`
	URL     string `hcl:"url"`
	Timeout string `hcl:"timeout,optional"`
}

// LoadTargets reads probe definitions from path. When the file does not
// exist, the built-in targets for the resolved keys are returned instead.
func LoadTargets(path string, env *envset.Set) ([]Target, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return BuiltinTargets(env), nil
	}

	var file hclProbeFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	if len(file.Probes) == 0 {
		return nil, fmt.Errorf("%s defines no probe blocks", path)
	}

	targets := make([]Target, 0, len(file.Probes))
	for _, p := range file.Probes {
		target := Target{
			Name: p.Name,
			URL:  os.Expand(p.URL, env.Get),
		}
		if p.Timeout != "" {
			timeout, err := time.ParseDuration(p.Timeout)
			if err != nil {
				return nil, fmt.Errorf("probe %q has invalid timeout %q: %w", p.Name, p.Timeout, err)
			}
			target.Timeout = timeout
		}
		targets = append(targets, target)
	}
	return targets, nil
}
