package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/Strob0t/TaskForge/internal/domain"
	"github.com/Strob0t/TaskForge/internal/port/fsprobe"
	"github.com/Strob0t/TaskForge/internal/port/processhost"
	"github.com/Strob0t/TaskForge/internal/runner"
)

var (
	// ErrToolMissing is returned when a builder's script or binary is absent.
	ErrToolMissing = errors.New("tool not found")

	// ErrNoInterpreter is returned when no Python interpreter can be found.
	ErrNoInterpreter = errors.New("no python interpreter found")

	// ErrUnknownTool is returned by Invoke for an unregistered tool name.
	ErrUnknownTool = errors.New("unknown tool")
)

const (
	pipMirror        = "https://mirrors.aliyun.com/pypi/simple"
	torchPackages    = "torch==1.13.1 torchvision==0.14.1 torchaudio==0.13.1 --index-url https://download.pytorch.org/whl/cu117"
	torchMirrorWheel = "https://mirrors.aliyun.com/pytorch-wheels/cu117/torch-1.13.1+cu117-cp310-cp310-win_amd64.whl"
	bundledPython    = "py310/python.exe"
	rwkvVocab        = "rwkv_vocab_v20230424"
)

// Plan is a resolved toolchain invocation: one stage runs as a single task,
// several stages as a chain, and a download request as a download task.
type Plan struct {
	Tool     string          `json:"tool"`
	Stages   [][]string      `json:"stages,omitempty"`
	Download *DownloadTarget `json:"download,omitempty"`
}

// DownloadTarget is the destination and source of a download plan.
type DownloadTarget struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Toolchain builds the argument vectors of the model tools shipped next to
// the server (Python backend, native converters, fine-tuning scripts).
type Toolchain struct {
	files     fsprobe.Probe
	host      processhost.Host
	downloads runner.DownloadDeps
	python    string

	goos     string
	lookPath func(string) (string, error)
}

// NewToolchain creates a Toolchain. python is the configured interpreter;
// empty means auto-detect.
func NewToolchain(files fsprobe.Probe, host processhost.Host, downloads runner.DownloadDeps, python string) *Toolchain {
	return &Toolchain{
		files:     files,
		host:      host,
		downloads: downloads,
		python:    python,
		goos:      runtime.GOOS,
		lookPath:  exec.LookPath,
	}
}

// Start launches plan and returns its Task.
func (tc *Toolchain) Start(ctx context.Context, plan Plan, onOutput runner.OutputFunc) (*runner.Task, error) {
	switch {
	case plan.Download != nil:
		return runner.Download(ctx, tc.downloads, plan.Download.Path, plan.Download.URL, onOutput)
	case len(plan.Stages) == 1:
		return runner.Start(tc.host, plan.Stages[0], onOutput), nil
	case len(plan.Stages) > 1:
		return runner.Chain(tc.host, plan.Stages, onOutput)
	default:
		return nil, fmt.Errorf("%w: plan for %s has no stages", domain.ErrValidation, plan.Tool)
	}
}

// Python returns the interpreter builders use when none is given: the
// configured one, the bundled Windows interpreter, then python3 or python
// from PATH.
func (tc *Toolchain) Python() (string, error) {
	if tc.python != "" {
		return tc.python, nil
	}
	if tc.goos == "windows" && tc.files.Exists(bundledPython) {
		return bundledPython, nil
	}
	for _, name := range []string{"python3", "python"} {
		if _, err := tc.lookPath(name); err == nil {
			return name, nil
		}
	}
	return "", ErrNoInterpreter
}

func (tc *Toolchain) interpreter(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return tc.Python()
}

// requireFile fails with ErrToolMissing when path does not exist.
func (tc *Toolchain) requireFile(path string) error {
	if !tc.files.Exists(path) {
		return fmt.Errorf("%w: %s", ErrToolMissing, path[strings.LastIndex(path, "/")+1:])
	}
	return nil
}

// firstExisting returns the first candidate that exists.
func (tc *Toolchain) firstExisting(candidates ...string) (string, error) {
	for _, c := range candidates {
		if tc.files.Exists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrToolMissing, candidates[0])
}

// pythonScript resolves the interpreter for script after checking it exists.
func (tc *Toolchain) pythonScript(explicit, script string) (string, error) {
	if err := tc.requireFile(script); err != nil {
		return "", err
	}
	return tc.interpreter(explicit)
}

func single(tool string, args ...string) Plan {
	return Plan{Tool: tool, Stages: [][]string{args}}
}

// ServerParams configures the Python inference server.
type ServerParams struct {
	Python  string `json:"python"`
	Port    int    `json:"port"`
	Host    string `json:"host"`
	WebUI   bool   `json:"webui"`
	RWKVCpp bool   `json:"rwkv_cpp"`
	WebGPU  bool   `json:"webgpu"`
}

// StartServer plans the Python inference server.
func (tc *Toolchain) StartServer(p ServerParams) (Plan, error) {
	const script = "./backend-python/main.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}
	args := []string{py, script}
	if p.WebUI {
		args = append(args, "--webui")
	}
	if p.RWKVCpp {
		args = append(args, "--rwkv.cpp")
	}
	if p.WebGPU {
		args = append(args, "--webgpu")
	}
	args = append(args, "--port", strconv.Itoa(p.Port), "--host", p.Host)
	return single("start_server", args...), nil
}

// WebGPUServerParams configures the native WebGPU server.
type WebGPUServerParams struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// StartWebGPUServer plans the native WebGPU server.
func (tc *Toolchain) StartWebGPUServer(p WebGPUServerParams) (Plan, error) {
	bin, err := tc.firstExisting("./backend-rust/webgpu_server", "./backend-rust/webgpu_server.exe")
	if err != nil {
		return Plan{}, err
	}
	return single("start_webgpu_server", bin, "--port", strconv.Itoa(p.Port), "--ip", p.Host), nil
}

// ConvertModelParams configures a strategy-specific model conversion.
type ConvertModelParams struct {
	Python    string `json:"python"`
	ModelPath string `json:"model_path"`
	Strategy  string `json:"strategy"`
	OutPath   string `json:"out_path"`
}

// ConvertModel plans convert_model.py.
func (tc *Toolchain) ConvertModel(p ConvertModelParams) (Plan, error) {
	const script = "./backend-python/convert_model.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}
	return single("convert_model", py, script, "--in", p.ModelPath, "--out", p.OutPath, "--strategy", p.Strategy), nil
}

// ConvertParams names a model and its converted output.
type ConvertParams struct {
	Python    string `json:"python"`
	ModelPath string `json:"model_path"`
	OutPath   string `json:"out_path"`
}

// ConvertSafetensors plans the native safetensors converter.
func (tc *Toolchain) ConvertSafetensors(p ConvertParams) (Plan, error) {
	bin, err := tc.firstExisting("./backend-rust/web-rwkv-converter", "./backend-rust/web-rwkv-converter.exe")
	if err != nil {
		return Plan{}, err
	}
	return single("convert_safetensors", bin, "--input", p.ModelPath, "--output", p.OutPath), nil
}

// ConvertSafetensorsWithPython plans convert_safetensors.py.
func (tc *Toolchain) ConvertSafetensorsWithPython(p ConvertParams) (Plan, error) {
	const script = "./backend-python/convert_safetensors.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}
	return single("convert_safetensors_python", py, script, "--input", p.ModelPath, "--output", p.OutPath), nil
}

// GGMLParams configures a GGML conversion.
type GGMLParams struct {
	Python    string `json:"python"`
	ModelPath string `json:"model_path"`
	OutPath   string `json:"out_path"`
	Q51       bool   `json:"q5_1"`
}

// ConvertGGML plans convert_pytorch_to_ggml.py.
func (tc *Toolchain) ConvertGGML(p GGMLParams) (Plan, error) {
	const script = "./backend-python/convert_pytorch_to_ggml.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}
	dataType := "FP16"
	if p.Q51 {
		dataType = "Q5_1"
	}
	return single("convert_ggml", py, script, p.ModelPath, p.OutPath, dataType), nil
}

// ConvertDataParams configures training data preprocessing.
type ConvertDataParams struct {
	Python       string `json:"python"`
	Input        string `json:"input"`
	OutputPrefix string `json:"output_prefix"`
	Vocab        string `json:"vocab"`
}

// ConvertData plans preprocess_data.py. A directory input is first packed
// into <prefix>.jsonl, one {"text": ...} record per .txt file.
func (tc *Toolchain) ConvertData(p ConvertDataParams) (Plan, error) {
	const script = "./finetune/json2binidx_tool/tools/preprocess_data.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}

	tokenizer := "HFTokenizer"
	if strings.Contains(p.Vocab, rwkvVocab) {
		tokenizer = "RWKVTokenizer"
	}

	input := strings.TrimSuffix(p.Input, "/")
	info, err := tc.files.ReadFileInfo(input)
	if err != nil {
		return Plan{}, fmt.Errorf("inspect %s: %w", input, err)
	}
	if info.IsDir {
		if input, err = tc.packTextDir(input, p.OutputPrefix); err != nil {
			return Plan{}, err
		}
	}

	return single("convert_data", py, script,
		"--input", input,
		"--output-prefix", p.OutputPrefix,
		"--vocab", p.Vocab,
		"--tokenizer-type", tokenizer,
		"--dataset-impl", "mmap",
		"--append-eod",
	), nil
}

// packTextDir writes every .txt file of dir into <prefix>.jsonl and returns
// that path.
func (tc *Toolchain) packTextDir(dir, prefix string) (string, error) {
	entries, err := tc.files.ListDir(dir, false)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(e.Name, ".txt") {
			continue
		}
		data, err := tc.files.ReadFile(dir + "/" + e.Name)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", e.Name, err)
		}
		text := strings.ReplaceAll(string(data), "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
		if err := enc.Encode(struct {
			Text string `json:"text"`
		}{text}); err != nil {
			return "", fmt.Errorf("encode %s: %w", e.Name, err)
		}
	}

	out := prefix + ".jsonl"
	if err := tc.files.WriteFile(out, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// MergeLoraParams configures merging a LoRA into its base model.
type MergeLoraParams struct {
	Python     string  `json:"python"`
	UseGPU     bool    `json:"use_gpu"`
	LoraAlpha  float64 `json:"lora_alpha"`
	BaseModel  string  `json:"base_model"`
	LoraPath   string  `json:"lora_path"`
	OutputPath string  `json:"output_path"`
}

// MergeLora plans merge_lora.py.
func (tc *Toolchain) MergeLora(p MergeLoraParams) (Plan, error) {
	const script = "./finetune/lora/merge_lora.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}
	args := []string{py, script}
	if p.UseGPU {
		args = append(args, "--use-gpu")
	}
	args = append(args, strconv.FormatFloat(p.LoraAlpha, 'f', -1, 64), p.BaseModel, p.LoraPath, p.OutputPath)
	return single("merge_lora", args...), nil
}

// PythonParams selects the interpreter of a script-only tool.
type PythonParams struct {
	Python string `json:"python"`
}

// DepCheck plans dep_check.py.
func (tc *Toolchain) DepCheck(p PythonParams) (Plan, error) {
	const script = "./backend-python/dep_check.py"
	py, err := tc.pythonScript(p.Python, script)
	if err != nil {
		return Plan{}, err
	}
	return single("dep_check", py, script), nil
}

// InstallParams configures dependency installation.
type InstallParams struct {
	Python   string `json:"python"`
	CNMirror bool   `json:"cn_mirror"`
}

// InstallPyDep plans the installation of the backend's Python dependencies.
// On Windows the bundled interpreter is prepared and pip, torch and the
// requirements are installed as a three-stage chain.
func (tc *Toolchain) InstallPyDep(p InstallParams) (Plan, error) {
	torch := torchPackages
	py := p.Python
	if py == "" {
		var err error
		if py, err = tc.Python(); err != nil {
			return Plan{}, err
		}
		if p.CNMirror && py == bundledPython {
			torch = torchMirrorWheel
		}
	}

	if tc.goos != "windows" {
		args := []string{py, "-m", "pip", "install", "-r", "./backend-python/requirements_without_cyac.txt"}
		if p.CNMirror {
			args = append(args, "-i", pipMirror)
		}
		return single("install_py_dep", args...), nil
	}

	if err := tc.files.ChangeFileLine("./py310/python310._pth", 3, `Lib\site-packages`); err != nil {
		slog.Warn("enable site-packages for bundled python", "error", err)
	}

	mirror := func() []string {
		if p.CNMirror {
			return []string{"-i", pipMirror}
		}
		return nil
	}
	const noWarn = "--no-warn-script-location"
	stages := [][]string{
		slices.Concat([]string{py, "./backend-python/get-pip.py"}, mirror(), []string{noWarn}),
		slices.Concat([]string{py, "-m", "pip", "install"}, strings.Fields(torch), []string{noWarn}),
		slices.Concat([]string{py, "-m", "pip", "install", "-r", "./backend-python/requirements.txt"}, mirror(), []string{noWarn}),
	}
	return Plan{Tool: "install_py_dep", Stages: stages}, nil
}

// DownloadParams names a download destination and source.
type DownloadParams struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Download plans a download task.
func (tc *Toolchain) Download(p DownloadParams) (Plan, error) {
	if p.Path == "" || p.URL == "" {
		return Plan{}, fmt.Errorf("%w: path and url are required", domain.ErrValidation)
	}
	return Plan{Tool: "download", Download: &DownloadTarget{Path: p.Path, URL: p.URL}}, nil
}

// toolBuilders maps tool names to their JSON-parameterised builders.
var toolBuilders = map[string]func(tc *Toolchain, raw json.RawMessage) (Plan, error){
	"start_server":               withParams((*Toolchain).StartServer),
	"start_webgpu_server":        withParams((*Toolchain).StartWebGPUServer),
	"convert_model":              withParams((*Toolchain).ConvertModel),
	"convert_safetensors":        withParams((*Toolchain).ConvertSafetensors),
	"convert_safetensors_python": withParams((*Toolchain).ConvertSafetensorsWithPython),
	"convert_ggml":               withParams((*Toolchain).ConvertGGML),
	"convert_data":               withParams((*Toolchain).ConvertData),
	"merge_lora":                 withParams((*Toolchain).MergeLora),
	"dep_check":                  withParams((*Toolchain).DepCheck),
	"install_py_dep":             withParams((*Toolchain).InstallPyDep),
	"download":                   withParams((*Toolchain).Download),
}

func withParams[P any](build func(*Toolchain, P) (Plan, error)) func(*Toolchain, json.RawMessage) (Plan, error) {
	return func(tc *Toolchain, raw json.RawMessage) (Plan, error) {
		var p P
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return Plan{}, fmt.Errorf("%w: invalid parameters: %v", domain.ErrValidation, err)
			}
		}
		return build(tc, p)
	}
}

// Plan builds the named tool from JSON parameters.
func (tc *Toolchain) Plan(tool string, raw json.RawMessage) (Plan, error) {
	build, ok := toolBuilders[tool]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	return build(tc, raw)
}

// Tools lists the registered tool names in sorted order.
func Tools() []string {
	names := make([]string, 0, len(toolBuilders))
	for name := range toolBuilders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
