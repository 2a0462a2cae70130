// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fluxgate/fluxd/common"
	"github.com/fluxgate/fluxd/config"
	"github.com/fluxgate/fluxd/confengine"
	"github.com/fluxgate/fluxd/engine"
	"github.com/fluxgate/fluxd/event"
	"github.com/fluxgate/fluxd/internal/sigs"
	"github.com/fluxgate/fluxd/logger"
	"github.com/fluxgate/fluxd/server"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the traffic-processing engine",
	Run: func(cmd *cobra.Command, args []string) {
		conf, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		if err := setupLogger(conf); err != nil {
			fmt.Fprintf(os.Stderr, "failed to configure logger: %v\n", err)
			os.Exit(1)
		}

		eng, svr, err := buildAgent(conf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build agent: %v\n", err)
			os.Exit(1)
		}

		if err := eng.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
			os.Exit(1)
		}
		if svr != nil {
			go func() {
				if err := svr.ListenAndServe(); err != nil {
					logger.Errorf("admin server stopped: %v", err)
				}
			}()
		}

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				if err := eng.Stop(); err != nil {
					logger.Errorf("failed to stop engine cleanly: %v", err)
				}
				return

			case <-sigs.Reload():
				reloadTotal++

				// 需要重新加载配置文件 reload 失败则保持原引擎运行
				conf, err := confengine.LoadConfigPath(configPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
					continue
				}

				start := time.Now()
				next, nextSvr, err := buildAgent(conf)
				if err != nil {
					logger.Errorf("failed to reload config: %v", err)
					continue
				}
				if err := next.Start(); err != nil {
					logger.Errorf("failed to start reloaded engine: %v", err)
					continue
				}
				if err := eng.Stop(); err != nil {
					logger.Errorf("failed to stop previous engine: %v", err)
				}
				if svr != nil {
					_ = svr.Close()
				}
				eng, svr = next, nextSvr
				if svr != nil {
					go func() {
						if err := svr.ListenAndServe(); err != nil {
							logger.Errorf("admin server stopped: %v", err)
						}
					}()
				}
				logger.Infof("reload (count=%d) take %s", reloadTotal, time.Since(start))
			}
		}
	},
	Example: "# fluxd agent --config fluxd.yaml",
}

var configPath string

func init() {
	agentCmd.Flags().StringVar(&configPath, "config", "fluxd.yaml", "Configuration file path")
	rootCmd.AddCommand(agentCmd)
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}
	if opts.Filename == "" {
		opts.Filename = common.App + ".log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}
	logger.SetOptions(opts)
	return nil
}

// buildAgent assembles one engine.Engine plus its admin server from conf,
// without starting either; used both for the initial run and for a
// SIGHUP reload's build-then-swap.
func buildAgent(conf *confengine.Config) (*engine.Engine, *server.Server, error) {
	var cfg config.Engine
	if err := conf.UnpackChild("engine", &cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, nil, err
	}
	setupAdminRoutes(svr)

	eng := engine.New(cfg, eventSink{})
	return eng, svr, nil
}

func setupAdminRoutes(svr *server.Server) {
	if svr == nil {
		return
	}
	svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		uptime.Set(float64(time.Now().Unix() - common.Started()))
		info := common.GetBuildInfo()
		buildInfoMetric.WithLabelValues(common.Version, info.GitHash, info.Time).Inc()
		promhttp.Handler().ServeHTTP(w, r)
	})
	svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		_, _ = w.Write([]byte(`{"status": "success"}`))
	})
	svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
		}
	})
}

// eventSink is the default engine.Sink: it records a Prometheus counter
// per protocol/kind pair and logs anything that ends a stream
// abnormally. A deployment that needs real downstream processing swaps
// this for a filter.Receiver wired to its own PipelineLayout before
// calling engine.New.
type eventSink struct{}

func (eventSink) Accept(e event.Event) {
	proto := "unknown"
	if e.Head != nil {
		proto = e.Head.Protocol
	}
	decodedEvents.WithLabelValues(proto, e.Kind.String()).Inc()
	if e.Kind == event.KindStreamEnd && e.Err != event.ErrNone {
		logger.Debugf("stream ended: %s", e.Err)
	}
}
