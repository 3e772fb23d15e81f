// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultOpenVocabLabels are the candidate phrases used when none are configured.
var DefaultOpenVocabLabels = []string{
	"aircraft carrier", "warship", "submarine", "fighter jet", "military helicopter",
	"tank", "military vehicle", "artillery", "missile launcher", "drone",
	"soldier", "military personnel", "radar", "flag",
}

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "entityindex")
	viper.SetDefault("main.datadir", "data")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/entityindex.log")
	viper.SetDefault("logging.file_output.max_size", 100)
	viper.SetDefault("logging.file_output.max_age", 30)
	viper.SetDefault("logging.file_output.max_backups", 10)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("sampling.intervalsec", 5)
	viper.SetDefault("sampling.ffmpegpath", "ffmpeg")
	viper.SetDefault("sampling.ffprobepath", "ffprobe")
	viper.SetDefault("sampling.quality", 2)
	viper.SetDefault("sampling.timeout", 30*time.Minute)
	viper.SetDefault("sampling.annotate", true)
	viper.SetDefault("sampling.smart.enabled", false)
	viper.SetDefault("sampling.smart.threshold", 0.08)
	viper.SetDefault("sampling.smart.minkeep", 5)

	viper.SetDefault("detection.synonymspath", "")

	viper.SetDefault("detection.object.enabled", true)
	viper.SetDefault("detection.object.required", false)
	viper.SetDefault("detection.object.modelpath", "models/ssd_mobilenet_coco.tflite")
	viper.SetDefault("detection.object.labelpath", "models/coco_labels.txt")
	viper.SetDefault("detection.object.threads", 0)
	viper.SetDefault("detection.object.minconfidence", 0.35)
	viper.SetDefault("detection.object.every", 1)

	viper.SetDefault("detection.openvocab.enabled", true)
	viper.SetDefault("detection.openvocab.required", false)
	viper.SetDefault("detection.openvocab.labels", DefaultOpenVocabLabels)
	viper.SetDefault("detection.openvocab.prompt", "a photo of %s")
	viper.SetDefault("detection.openvocab.threshold", 0.25)
	viper.SetDefault("detection.openvocab.every", 1)

	viper.SetDefault("detection.discovery.enabled", false)
	viper.SetDefault("detection.discovery.required", false)
	viper.SetDefault("detection.discovery.prompt", "Describe the main objects visible in this image in one short sentence.")
	viper.SetDefault("detection.discovery.maxphrases", 8)
	viper.SetDefault("detection.discovery.minscore", 0.0)
	viper.SetDefault("detection.discovery.allowlist", []string{})
	viper.SetDefault("detection.discovery.ratelimit", 2.0)
	viper.SetDefault("detection.discovery.every", 1)

	viper.SetDefault("detection.ocr.enabled", false)
	viper.SetDefault("detection.ocr.required", false)
	viper.SetDefault("detection.ocr.tesseractpath", "tesseract")
	viper.SetDefault("detection.ocr.language", "eng")
	viper.SetDefault("detection.ocr.minconfidence", 60.0)
	viper.SetDefault("detection.ocr.every", 1)

	viper.SetDefault("detection.verify.enabled", false)
	viper.SetDefault("detection.verify.threshold", 0.27)
	viper.SetDefault("detection.verify.every", 1)

	viper.SetDefault("aggregation.minrun", 2)
	viper.SetDefault("aggregation.openvocabminrun", 2)
	viper.SetDefault("aggregation.discoveryminrun", 2)
	viper.SetDefault("aggregation.minscore", 0.2)

	viper.SetDefault("provider.apikey", "")
	viper.SetDefault("provider.apikeyfile", "")
	viper.SetDefault("provider.baseurl", "https://api.openai.com/v1")
	viper.SetDefault("provider.visionmodel", "gpt-4o-mini")
	viper.SetDefault("provider.embeddingmodel", "text-embedding-3-small")
	viper.SetDefault("provider.transcriptionmodel", "whisper-1")
	viper.SetDefault("provider.timeout", 60*time.Second)
	viper.SetDefault("provider.imageembeddingmodel", "clip-vit-base-patch32")
	viper.SetDefault("provider.imageembeddingbaseurl", "")

	viper.SetDefault("transcription.enabled", true)
	viper.SetDefault("transcription.language", "")

	viper.SetDefault("labelindex.enabled", true)
	viper.SetDefault("labelindex.backend", "file")
	viper.SetDefault("labelindex.similarity", 0.7)
	viper.SetDefault("labelindex.cachettl", 10*time.Minute)
	viper.SetDefault("labelindex.postgres.dsn", "")
	viper.SetDefault("labelindex.postgres.dsnfile", "")
	viper.SetDefault("labelindex.postgres.table", "label_embeddings")
	viper.SetDefault("labelindex.postgres.dimensions", 1536)

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "entityindex.db")
	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.username", "entityindex")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.passwordfile", "")
	viper.SetDefault("database.mysql.database", "entityindex")
	viper.SetDefault("database.slowquery", 200*time.Millisecond)

	viper.SetDefault("queue.workers", 2)
	viper.SetDefault("queue.maxpending", 100)
	viper.SetDefault("queue.maxretries", 0)
	viper.SetDefault("queue.retrydelay", 30*time.Second)
	viper.SetDefault("queue.shutdowntimeout", 2*time.Minute)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.maxuploadmb", 2048)
	viper.SetDefault("webserver.metrics", true)
}
