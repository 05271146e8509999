package env

import (
	"log"

	"github.com/spf13/viper"
)

type Env struct {
	Environment string `mapstructure:"ENVIRONMENT"`
}

// LoadEnvironmentVariables loads environment variables
func LoadEnvironmentVariables() (*Env, error) {
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("PORT", 3000)
	viper.SetDefault("LOG_LEVEL", "info")

	env := &Env{}

	viper.SetConfigFile(".env")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = viper.Unmarshal(&env)

	if err != nil {
		log.Fatal("Environment can't be loaded: ", err)
		return nil, err
	}

	return env, nil
}

// IsDevelopment returns true if the environment is development
func IsDevelopment() bool {
	return viper.GetString("ENVIRONMENT") == "development"
}

// GetPort returns the API server port.
func GetPort() int {
	return viper.GetInt("PORT")
}

// GetLogLevel returns the configured log level.
func GetLogLevel() string {
	return viper.GetString("LOG_LEVEL")
}

// GetRecordingsDir returns the recordings directory override, if any.
func GetRecordingsDir() string {
	return viper.GetString("RECORDINGS_DIR")
}

// GetAudioDevice returns the pulse source to capture, empty means default.
func GetAudioDevice() string {
	return viper.GetString("AUDIO_DEVICE")
}

// GetWebcamDevice returns the v4l2 device used for the webcam bubble.
func GetWebcamDevice() string {
	return viper.GetString("WEBCAM_DEVICE")
}

// GetBucketName returns the recording bucket, empty disables uploads.
func GetBucketName() string {
	return viper.GetString("BUCKET_NAME")
}

func GetBucketEndpoint() string {
	return viper.GetString("BUCKET_ENDPOINT")
}

func GetBucketAppKey() string {
	return viper.GetString("BUCKET_APP_KEY")
}

func GetBucketKeyId() string {
	return viper.GetString("BUCKET_KEY_ID")
}

func GetBucketRegion() string {
	return viper.GetString("BUCKET_REGION")
}
