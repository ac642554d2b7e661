package template

import (
	"os"
	"path/filepath"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdeploy-dev/kdeploy/internal/logging"
)

func TestRenderFile(t *testing.T) {
	cfg := fixture(t, "replicas: 2\n")
	logger := logging.NewLogger(os.Stderr, logging.LevelError)
	eng := NewEngine(cfg, logger, nil)

	dir := t.TempDir()

	t.Run("renders context values and sprig functions", func(t *testing.T) {
		path := filepath.Join(dir, "cm.yml")
		content := "name: {{ .app.name }}\nreplicas: {{ .app.replicas }}\nenc: {{ \"x\" | b64encode }}\nupper: {{ upper .env }}\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		ctx, err := BuildContext(cfg, "web", "")
		require.NoError(t, err)

		out, err := eng.RenderFile(path, ctx)
		require.NoError(t, err)
		assert.Contains(t, out, "name: web")
		assert.Contains(t, out, "replicas: 2")
		assert.Contains(t, out, "enc: eA==")
		assert.Contains(t, out, "upper: STAGING")
	})

	t.Run("missing key fails", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yml")
		require.NoError(t, os.WriteFile(path, []byte("v: {{ .no.such.key }}\n"), 0o644))

		ctx, err := BuildContext(cfg, "web", "")
		require.NoError(t, err)

		_, err = eng.RenderFile(path, ctx)
		var tmplErr *TemplateError
		require.ErrorAs(t, err, &tmplErr)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := eng.RenderFile(filepath.Join(dir, "nope.yml"), Context{})
		var tmplErr *TemplateError
		require.ErrorAs(t, err, &tmplErr)
	})
}

func TestRenderApp(t *testing.T) {
	cfg := fixture(t, "replicas: 2\n")
	logger := logging.NewLogger(os.Stderr, logging.LevelError)
	eng := NewEngine(cfg, logger, nil)

	// Flat templates at the app root plus one component tree.
	flat := filepath.Join(cfg.AppsDir(), "web", "templates")
	require.NoError(t, os.MkdirAll(flat, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(flat, "service.yml"), []byte("kind: Service\napp: {{ .app.name }}\n"), 0o644))

	apiTemplates := filepath.Join(cfg.AppsDir(), "web", "api", "templates")
	require.NoError(t, os.MkdirAll(apiTemplates, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(apiTemplates, "deployment.yml"), []byte("kind: Deployment\nport: {{ .component.port }}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AppsDir(), "web", "api", "config.yml"), []byte("port: 8080\n"), 0o644))

	// Not a template, must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(flat, "README.md"), []byte("ignored"), 0o644))

	rendered, err := eng.RenderApp("web", false)
	require.NoError(t, err)
	require.Len(t, rendered, 2)

	t.Run("sorted by path", func(t *testing.T) {
		assert.Equal(t, "api/deployment.yml", rendered[0].Path)
		assert.Equal(t, "service.yml", rendered[1].Path)
	})

	t.Run("component context applied", func(t *testing.T) {
		assert.Contains(t, rendered[0].Content, "port: 8080")
		assert.Contains(t, rendered[1].Content, "app: web")
	})
}

func TestRenderApp_Persist(t *testing.T) {
	cfg := fixture(t, "replicas: 1\n")
	logger := logging.NewLogger(os.Stderr, logging.LevelError)
	eng := NewEngine(cfg, logger, nil)

	flat := filepath.Join(cfg.AppsDir(), "web", "templates")
	require.NoError(t, os.MkdirAll(flat, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(flat, "cm.yml"), []byte("kind: ConfigMap\n"), 0o644))

	// Stale output from a previous build must disappear.
	outDir := filepath.Join(cfg.BuildDir(), "web")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "stale.yml"), []byte("old"), 0o644))

	_, err := eng.RenderApp("web", true)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "cm.yml"))
	require.NoError(t, err)
	assert.Equal(t, "kind: ConfigMap\n", string(data))

	_, err = os.Stat(filepath.Join(outDir, "stale.yml"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderApp_MissingApp(t *testing.T) {
	cfg := fixture(t, "")
	logger := logging.NewLogger(os.Stderr, logging.LevelError)
	eng := NewEngine(cfg, logger, nil)

	_, err := eng.RenderApp("ghost", false)
	var tmplErr *TemplateError
	require.ErrorAs(t, err, &tmplErr)
}

func TestNewEngine_ExtraFuncs(t *testing.T) {
	cfg := fixture(t, "")
	logger := logging.NewLogger(os.Stderr, logging.LevelError)
	eng := NewEngine(cfg, logger, template.FuncMap{
		"shout": func(s string) string { return s + "!" },
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "t.yml")
	require.NoError(t, os.WriteFile(path, []byte(`v: {{ shout "hi" }}`), 0o644))

	out, err := eng.RenderFile(path, Context{})
	require.NoError(t, err)
	assert.Equal(t, "v: hi!", out)
}
