package infer

import "testing"

func TestNewDNNFactoryRequiresModelPaths(t *testing.T) {
	cases := []struct {
		name string
		cfg  DNNConfig
	}{
		{"no paths", DNNConfig{}},
		{"missing recognize", DNNConfig{DetectModelPath: "det.onnx"}},
		{"missing detect", DNNConfig{RecognizeModelPath: "rec.onnx"}},
	}
	for _, tc := range cases {
		if _, err := NewDNNFactory(tc.cfg); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}

func TestNewDNNFactoryAppliesDefaults(t *testing.T) {
	f, err := NewDNNFactory(DNNConfig{
		DetectModelPath:    "det.onnx",
		RecognizeModelPath: "rec.onnx",
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if f.cfg.DetectInputSize != 640 || f.cfg.RecognizeInputSize != 112 {
		t.Fatalf("input sizes = %d/%d, want 640/112", f.cfg.DetectInputSize, f.cfg.RecognizeInputSize)
	}
	if f.cfg.ScoreThreshold != 0.5 || f.cfg.NMSThreshold != 0.45 {
		t.Fatalf("thresholds = %v/%v, want 0.5/0.45", f.cfg.ScoreThreshold, f.cfg.NMSThreshold)
	}
}
