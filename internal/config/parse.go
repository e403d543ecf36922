package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type fileConfig struct {
	Audio *struct {
		Input      *string `json:"input"`
		Fallback   *string `json:"fallback"`
		SampleRate *int    `json:"sample_rate"`
	} `json:"audio"`
	Convert *struct {
		FFmpeg         *string `json:"ffmpeg"`
		NoiseReduction *bool   `json:"noise_reduction"`
	} `json:"convert"`
	ASR *struct {
		Backend   *string `json:"backend"`
		Model     *string `json:"model"`
		Language  *string `json:"language"`
		Translate *bool   `json:"translate"`
	} `json:"asr"`
	Whisper *struct {
		Binary   *string `json:"binary"`
		ModelDir *string `json:"model_dir"`
		Threads  *int    `json:"threads"`
	} `json:"whisper"`
	Inference *struct {
		Endpoint      *string `json:"endpoint"`
		DialTimeoutMS *int    `json:"dial_timeout_ms"`
	} `json:"inference"`
	Transcript *struct {
		Timestamps          *bool `json:"timestamps"`
		CapitalizeSentences *bool `json:"capitalize_sentences"`
	} `json:"transcript"`
	Storage *struct {
		Destination *string `json:"destination"`
		PrivateDir  *string `json:"private_dir"`
		ExternalDir *string `json:"external_dir"`
		WorkDir     *string `json:"work_dir"`
	} `json:"storage"`
	History *struct {
		Enable *bool   `json:"enable"`
		Path   *string `json:"path"`
	} `json:"history"`
	Clipboard *struct {
		Enable *bool   `json:"enable"`
		Cmd    *string `json:"cmd"`
	} `json:"clipboard"`
	Indicator *struct {
		Enable         *bool   `json:"enable"`
		SoundEnable    *bool   `json:"sound_enable"`
		AppName        *string `json:"app_name"`
		ErrorTimeoutMS *int    `json:"error_timeout_ms"`
	} `json:"indicator"`
}

// Parse reads JSONC content over base and validates the result. Empty
// content yields base.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg := base
	if strings.TrimSpace(content) != "" {
		normalized, err := normalizeJSONC(content)
		if err != nil {
			return Config{}, nil, err
		}

		decoder := json.NewDecoder(strings.NewReader(normalized))
		decoder.DisallowUnknownFields()

		var file fileConfig
		if err := decoder.Decode(&file); err != nil {
			return Config{}, nil, wrapJSONDecodeError(normalized, err)
		}
		if err := ensureSingleJSONValue(decoder); err != nil {
			return Config{}, nil, wrapJSONDecodeError(normalized, err)
		}
		if err := file.applyTo(&cfg); err != nil {
			return Config{}, nil, err
		}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setPath(dst *string, src *string) {
	if src != nil {
		*dst = expandHome(*src)
	}
}

func (f fileConfig) applyTo(cfg *Config) error {
	if a := f.Audio; a != nil {
		setTrimmed(&cfg.Audio.Input, a.Input)
		setTrimmed(&cfg.Audio.Fallback, a.Fallback)
		set(&cfg.Audio.SampleRate, a.SampleRate)
	}
	if c := f.Convert; c != nil {
		setTrimmed(&cfg.Convert.FFmpeg, c.FFmpeg)
		set(&cfg.Convert.NoiseReduction, c.NoiseReduction)
	}
	if a := f.ASR; a != nil {
		if a.Backend != nil {
			cfg.ASR.Backend = strings.ToLower(strings.TrimSpace(*a.Backend))
		}
		setTrimmed(&cfg.ASR.Model, a.Model)
		setTrimmed(&cfg.ASR.Language, a.Language)
		set(&cfg.ASR.Translate, a.Translate)
	}
	if w := f.Whisper; w != nil {
		setPath(&cfg.Whisper.Binary, w.Binary)
		setPath(&cfg.Whisper.ModelDir, w.ModelDir)
		set(&cfg.Whisper.Threads, w.Threads)
	}
	if i := f.Inference; i != nil {
		setTrimmed(&cfg.Inference.Endpoint, i.Endpoint)
		set(&cfg.Inference.DialTimeoutMS, i.DialTimeoutMS)
	}
	if t := f.Transcript; t != nil {
		set(&cfg.Transcript.Timestamps, t.Timestamps)
		set(&cfg.Transcript.CapitalizeSentences, t.CapitalizeSentences)
	}
	if s := f.Storage; s != nil {
		if s.Destination != nil {
			cfg.Storage.Destination = strings.ToLower(strings.TrimSpace(*s.Destination))
		}
		setPath(&cfg.Storage.PrivateDir, s.PrivateDir)
		setPath(&cfg.Storage.ExternalDir, s.ExternalDir)
		setPath(&cfg.Storage.WorkDir, s.WorkDir)
	}
	if h := f.History; h != nil {
		set(&cfg.History.Enable, h.Enable)
		setPath(&cfg.History.Path, h.Path)
	}
	if c := f.Clipboard; c != nil {
		set(&cfg.Clipboard.Enable, c.Enable)
		if c.Cmd != nil {
			argv, err := parseArgv(*c.Cmd)
			if err != nil {
				return fmt.Errorf("invalid clipboard.cmd: %w", err)
			}
			cfg.Clipboard.Cmd = CommandConfig{Raw: *c.Cmd, Argv: argv}
		}
	}
	if ind := f.Indicator; ind != nil {
		set(&cfg.Indicator.Enable, ind.Enable)
		set(&cfg.Indicator.SoundEnable, ind.SoundEnable)
		setTrimmed(&cfg.Indicator.AppName, ind.AppName)
		set(&cfg.Indicator.ErrorTimeoutMS, ind.ErrorTimeoutMS)
	}
	return nil
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return errors.New("multiple JSON values are not allowed")
	}
	return err
}
