package config

// Definition mirrors the configuration file. Each field maps to a key in
// config.yaml or a SKYMOSAIC_ environment variable.
type Definition struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"logFormat"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// MaxUploadSize is given in megabytes.
	MaxUploadSize   int    `mapstructure:"maxUploadSize"`
	ShutdownTimeout string `mapstructure:"shutdownTimeout"`

	Paths     *PathsDef     `mapstructure:"paths"`
	Scheduler *SchedulerDef `mapstructure:"scheduler"`
	Pipeline  *PipelineDef  `mapstructure:"pipeline"`
}

// PathsDef configures the filesystem layout.
type PathsDef struct {
	DataDir    string `mapstructure:"dataDir"`
	ImagesDir  string `mapstructure:"imagesDir"`
	TilesDir   string `mapstructure:"tilesDir"`
	LogDir     string `mapstructure:"logDir"`
	RecordFile string `mapstructure:"recordFile"`
	CursorFile string `mapstructure:"cursorFile"`
}

// SchedulerDef configures windows and ticks.
type SchedulerDef struct {
	// UpdateRate is the window width in seconds.
	UpdateRate         int    `mapstructure:"updateRate"`
	Concurrency        int    `mapstructure:"concurrency"`
	LockStaleThreshold string `mapstructure:"lockStaleThreshold"`
	LockRetryInterval  string `mapstructure:"lockRetryInterval"`
}

// PipelineDef configures the external image-science commands.
type PipelineDef struct {
	Preprocess   string `mapstructure:"preprocess"`
	Georeference string `mapstructure:"georeference"`
	Merge        string `mapstructure:"merge"`
	NoData       string `mapstructure:"nodata"`
	Tile         string `mapstructure:"tile"`
	WorkDir      string `mapstructure:"workDir"`
	NoDataValue  int    `mapstructure:"nodataValue"`
}
