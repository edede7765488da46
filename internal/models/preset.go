package models

// Preset is a named download configuration loaded from the presets file.
// Stages lists which stage tasks the preset produces; the default
// audio+video preset yields audio, video and merge children.
type Preset struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description,omitempty"`
	Format         string   `yaml:"format,omitempty"`
	OutputTemplate string   `yaml:"output_template,omitempty"`
	Stages         []string `yaml:"stages,omitempty"`
	ExtraArgs      []string `yaml:"extra_args,omitempty"`
}

// StageList returns the preset's stages, defaulting to the full
// audio/video/merge pipeline when unspecified.
func (p *Preset) StageList() []Stage {
	if len(p.Stages) == 0 {
		return []Stage{StageAudio, StageVideo, StageMerge}
	}
	stages := make([]Stage, 0, len(p.Stages))
	for _, s := range p.Stages {
		stages = append(stages, Stage(s))
	}
	return stages
}
