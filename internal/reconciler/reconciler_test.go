package reconciler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"envsyncd/internal/adapter/fake"
	"envsyncd/internal/reconciler"
)

func composeLabels(project, service, dependsOn string) map[string]string {
	labels := map[string]string{
		reconciler.LabelProject: project,
		reconciler.LabelService: service,
	}
	if dependsOn != "" {
		labels[reconciler.LabelDependsOn] = dependsOn
	}
	return labels
}

func targetSnapshot() reconciler.Snapshot {
	return reconciler.Snapshot{
		Name:        "myapp-api",
		Image:       "myapp/api:1.2.3",
		Cmd:         []string{"serve"},
		Entrypoint:  []string{"/entrypoint.sh"},
		Env:         []string{"EXISTING=x", "PORT=8080"},
		Labels:      composeLabels("myapp", "api", ""),
		Binds:       []string{"/srv/api/.env:/app/.env:ro"},
		NetworkMode: "bridge",
		RestartPolicy: reconciler.RestartPolicy{Name: "always"},
		Networks: map[string]reconciler.Network{
			"bridge":  {},
			"backend": {Aliases: []string{"api", "api-1"}},
		},
		Running: true,
	}
}

func TestReconcileRecreatesTarget(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())
	r := reconciler.New(engine)

	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	snap, running, exists := engine.Container("myapp-api")
	if !exists {
		t.Fatal("replacement container missing")
	}
	if !running {
		t.Error("replacement not started")
	}
	if snap.Image != "myapp/api:1.2.3" {
		t.Errorf("image not preserved: %q", snap.Image)
	}
	if len(snap.Binds) != 1 || snap.Binds[0] != "/srv/api/.env:/app/.env:ro" {
		t.Errorf("binds not preserved: %v", snap.Binds)
	}
	if snap.RestartPolicy.Name != "always" {
		t.Errorf("restart policy not preserved: %+v", snap.RestartPolicy)
	}

	// stop → remove → create → start, in that order.
	var sequence []string
	for _, c := range engine.Calls("") {
		switch c.Method {
		case "ContainerStop", "ContainerRemove", "ContainerCreate", "ContainerStart":
			sequence = append(sequence, c.Method)
		}
	}
	want := []string{"ContainerStop", "ContainerRemove", "ContainerCreate", "ContainerStart"}
	if len(sequence) != len(want) {
		t.Fatalf("sequence: got %v", sequence)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("sequence: got %v, want %v", sequence, want)
		}
	}
}

func TestReconcileReattachesNonDefaultNetworks(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())
	r := reconciler.New(engine)

	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatal(err)
	}

	connects := engine.Calls("NetworkConnect")
	if len(connects) != 1 {
		t.Fatalf("NetworkConnect calls: got %d, want 1 (bridge is attached by the engine)", len(connects))
	}
	if connects[0].Args[0] != "backend" {
		t.Errorf("network: got %v", connects[0].Args[0])
	}
	aliases, _ := connects[0].Args[2].([]string)
	if len(aliases) != 2 {
		t.Errorf("aliases not preserved: %v", aliases)
	}
}

func TestReconcileNetworkFailureNonFatal(t *testing.T) {
	snap := targetSnapshot()
	snap.Networks["frontend"] = reconciler.Network{Aliases: []string{"api"}}
	engine := fake.NewEngine()
	engine.Add(snap)
	engine.NetworkConnectErr = func(ctx context.Context, network, containerName string, aliases []string) error {
		if network == "backend" {
			return errors.New("endpoint conflict")
		}
		return nil
	}
	r := reconciler.New(engine)

	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatalf("one failed reattach must not abort reconciliation: %v", err)
	}
	if len(engine.Calls("NetworkConnect")) != 2 {
		t.Error("remaining networks must still be attempted")
	}
	if _, running, _ := engine.Container("myapp-api"); !running {
		t.Error("target must still be started")
	}
}

func TestReconcilePreservesPrimaryNetworkAliases(t *testing.T) {
	snap := targetSnapshot()
	snap.NetworkMode = "myapp_default"
	snap.Networks = map[string]reconciler.Network{
		"myapp_default": {Aliases: []string{"api", "api-1"}},
	}
	engine := fake.NewEngine()
	engine.Add(snap)

	r := reconciler.New(engine)
	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatal(err)
	}

	// The create request carries the NetworkMode endpoint with its
	// aliases; a separate reconnect would race the engine's own attach.
	got, _, exists := engine.Container("myapp-api")
	if !exists {
		t.Fatal("replacement container missing")
	}
	nw, ok := got.Networks["myapp_default"]
	if !ok || len(nw.Aliases) != 2 || nw.Aliases[0] != "api" {
		t.Errorf("service aliases lost on the recreated container: %+v", got.Networks)
	}
	if len(engine.Calls("NetworkConnect")) != 0 {
		t.Error("the container's own network must not be reconnected after create")
	}
}

func TestReconcileListFailurePropagates(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())
	engine.ContainerListErr = func(ctx context.Context, labels map[string]string) error {
		return errors.New("engine unavailable")
	}

	r := reconciler.New(engine)
	err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{})
	if err == nil {
		t.Fatal("dependent enumeration failure must propagate so the scheduler retries")
	}

	// Nothing destructive may have happened with dependents unknown.
	for _, method := range []string{"ContainerStop", "ContainerRemove", "ContainerCreate"} {
		if len(engine.Calls(method)) != 0 {
			t.Errorf("%s called after failed dependent enumeration", method)
		}
	}
	if _, running, exists := engine.Container("myapp-api"); !exists || !running {
		t.Error("target must be left untouched")
	}
}

func TestReconcileNotFound(t *testing.T) {
	engine := fake.NewEngine()
	r := reconciler.New(engine)

	err := r.Reconcile(context.Background(), "ghost", reconciler.Options{})
	if !errors.Is(err, reconciler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, method := range []string{"ContainerStop", "ContainerRemove", "ContainerCreate", "ContainerStart"} {
		if len(engine.Calls(method)) != 0 {
			t.Errorf("%s called for a missing target", method)
		}
	}
}

func TestReconcileStopsDependentsFirstStartsThemLast(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())

	web := reconciler.Snapshot{
		Name:    "myapp-web",
		Image:   "myapp/web:1",
		Labels:  composeLabels("myapp", "web", "api:service_started:true"),
		Running: true,
	}
	idle := reconciler.Snapshot{
		Name:   "myapp-batch",
		Image:  "myapp/batch:1",
		Labels: composeLabels("myapp", "batch", `["api","db"]`),
	}
	unrelated := reconciler.Snapshot{
		Name:    "myapp-db",
		Image:   "postgres:16",
		Labels:  composeLabels("myapp", "db", ""),
		Running: true,
	}
	engine.Add(web)
	engine.Add(idle)
	engine.Add(unrelated)

	r := reconciler.New(engine)
	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatal(err)
	}

	var ops []string
	for _, c := range engine.Calls("") {
		switch c.Method {
		case "ContainerCreate":
			ops = append(ops, c.Method+":"+c.Args[0].(reconciler.Snapshot).Name)
		case "ContainerStop", "ContainerRemove", "ContainerStart":
			ops = append(ops, c.Method+":"+c.Args[0].(string))
		case "NetworkConnect":
			ops = append(ops, c.Method+":"+c.Args[1].(string))
		}
	}

	indexOf := func(op string) int {
		for i, o := range ops {
			if o == op {
				return i
			}
		}
		t.Fatalf("operation %s missing from %v", op, ops)
		return -1
	}

	// Running dependent stopped before the target is removed, restarted
	// only after the target is running again.
	if indexOf("ContainerStop:myapp-web") > indexOf("ContainerRemove:myapp-api") {
		t.Error("dependent must stop before target removal")
	}
	if indexOf("ContainerStart:myapp-web") < indexOf("ContainerStart:myapp-api") {
		t.Error("dependent must start after target start")
	}

	// A dependent that was not running is neither stopped nor started.
	for _, o := range ops {
		if o == "ContainerStop:myapp-batch" || o == "ContainerStart:myapp-batch" {
			t.Errorf("idle dependent touched: %v", ops)
		}
	}
	// Non-dependents are untouched.
	for _, o := range ops {
		if o == "ContainerStop:myapp-db" {
			t.Errorf("unrelated container stopped: %v", ops)
		}
	}

	if _, running, _ := engine.Container("myapp-web"); !running {
		t.Error("dependent not running after reconciliation")
	}
}

func TestReconcileDependentVanishedBeforeRestart(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())
	engine.Add(reconciler.Snapshot{
		Name:    "myapp-web",
		Labels:  composeLabels("myapp", "web", "api"),
		Running: true,
	})

	// The dependent disappears while the target is being replaced: its
	// stop doubles as a removal, so the later restart finds nothing.
	engine.ContainerStopErr = func(ctx context.Context, name string, grace time.Duration) error {
		if name == "myapp-web" {
			return engine.ContainerRemove(context.Background(), "myapp-web", true)
		}
		return nil
	}

	r := reconciler.New(engine)
	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatalf("vanished dependent must not fail the target: %v", err)
	}
	if _, running, exists := engine.Container("myapp-api"); !exists || !running {
		t.Error("target must be recreated and running")
	}
}

func TestReconcileMalformedLabelsTreatedStandalone(t *testing.T) {
	snap := targetSnapshot()
	snap.Labels = map[string]string{reconciler.LabelProject: "myapp"} // no service label
	engine := fake.NewEngine()
	engine.Add(snap)
	engine.Add(reconciler.Snapshot{
		Name:    "myapp-web",
		Labels:  composeLabels("myapp", "web", "api"),
		Running: true,
	})

	r := reconciler.New(engine)
	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatalf("standalone fallback must still complete: %v", err)
	}

	if len(engine.Calls("ContainerList")) != 0 {
		t.Error("standalone target must not enumerate the project")
	}
	if len(engine.Calls("ContainerStop")) != 1 {
		t.Error("only the target itself should be stopped")
	}
	if _, running, _ := engine.Container("myapp-api"); !running {
		t.Error("target must be recreated and running")
	}
}

func TestReconcileEnvInjection(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())
	r := reconciler.New(engine)

	err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{
		Env: []string{"PORT=9090", "NEW_KEY=v"},
	})
	if err != nil {
		t.Fatal(err)
	}

	snap, _, _ := engine.Container("myapp-api")
	want := map[string]bool{"EXISTING=x": true, "PORT=9090": true, "NEW_KEY=v": true}
	if len(snap.Env) != 3 {
		t.Fatalf("env: got %v", snap.Env)
	}
	for _, kv := range snap.Env {
		if !want[kv] {
			t.Errorf("unexpected env entry %q in %v", kv, snap.Env)
		}
	}
}

func TestReconcileSingleFlight(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	engine.ContainerStopErr = func(ctx context.Context, name string, grace time.Duration) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}

	r := reconciler.New(engine)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- r.Reconcile(context.Background(), "myapp-api", reconciler.Options{})
	}()
	<-entered

	// A concurrent trigger for the same container is rejected, not queued.
	err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{})
	if !errors.Is(err, reconciler.ErrApplyInFlight) {
		t.Fatalf("expected ErrApplyInFlight, got %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// After completion the guard is released.
	if err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{}); err != nil {
		t.Fatalf("reconcile after release: %v", err)
	}
}

func TestReconcileRemoveFailurePropagates(t *testing.T) {
	engine := fake.NewEngine()
	engine.Add(targetSnapshot())
	engine.ContainerRemoveErr = func(ctx context.Context, name string, force bool) error {
		return errors.New("device busy")
	}

	r := reconciler.New(engine)
	err := r.Reconcile(context.Background(), "myapp-api", reconciler.Options{})
	if err == nil {
		t.Fatal("engine API failure must propagate so the scheduler retries")
	}
	if errors.Is(err, reconciler.ErrNotFound) || errors.Is(err, reconciler.ErrApplyInFlight) {
		t.Errorf("wrong classification: %v", err)
	}
}
