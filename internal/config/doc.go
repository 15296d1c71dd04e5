// Package config provides configuration types and loading for the proxy
// client and its gateway pool.
//
// # Features
//
//   - YAML configuration file loading with unknown-field rejection
//   - Environment variable substitution with ${VAR:-default} syntax
//   - Defaults for every optional setting
//   - Validation with path-qualified error reporting
//   - Regions given as a group name ("us") or an explicit list
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("avaproxy.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// # Example
//
//	baseURL: https://www.example.com
//	regions: [us-east-1, us-west-2]
//	gatewaysPerRegion: 2
//	reuseGateways: false
//	aws:
//	  accessKeyID: ${AWS_ACCESS_KEY_ID}
//	  secretAccessKey: ${AWS_SECRET_ACCESS_KEY}
//	provisioning:
//	  timeout: 60s
//	  retry:
//	    maxRetries: 3
//	    initialBackoff: 500ms
package config
