package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-ensync/internal/config"
)

// TestModule_Load 测试模块加载
func TestModule_Load(t *testing.T) {
	var m *Metrics

	app := fxtest.New(t,
		Module,
		fx.Populate(&m),
	)
	defer app.RequireStart().RequireStop()

	if m == nil {
		t.Fatal("Metrics not populated")
	}
	m.PublishStarted()
}

// TestModule_WithRegisterer 测试从配置读取注册器
func TestModule_WithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.NewConfig()
	cfg.MetricsRegisterer = reg

	var m *Metrics
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&m),
	)
	defer app.RequireStart().RequireStop()

	m.PublishDone(ResultOK)
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}
