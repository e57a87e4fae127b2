package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/archive"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/pipeline"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "config file path")
	outDir := flag.String("out", "", "output directory of the resource obfuscation step")
	apkName := flag.String("name", "", "base name of the produced archives")
	tablePath := flag.String("table", "", "compression table json file")
	sourceAPK := flag.String("source-apk", "", "read the compression table from the original apk (file name may use * and ?)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("resguard %s (build %s, commit %s)\n", Version, BuildTime, GitCommit)
		return
	}

	if *outDir == "" || *apkName == "" {
		flag.Usage()
		os.Exit(2)
	}
	if (*tablePath == "") == (*sourceAPK == "") {
		log.Fatalf("exactly one of -table or -source-apk is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := config.InitLogger(&cfg.Log)

	conf, err := config.NewConfiguration(cfg.ResGuard, cfg.Tools)
	if err != nil {
		logger.WithError(err).Fatal("Invalid resguard configuration")
	}

	table, err := loadTable(conf, *tablePath, *sourceAPK)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load compression table")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.NewBuilder(*outDir, *apkName, conf.BuildOptions(), nil, logger).Build(ctx, table)
	if result != nil {
		for _, s := range result.Stages {
			logger.WithFields(logrus.Fields{
				"stage":       s.Stage,
				"status":      s.Status,
				"duration_ms": s.DurationMS,
			}).Info("Stage finished")
		}
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error_kind": domain.KindOf(err),
			"error":      err.Error(),
		}).Error("Build failed")
		os.Exit(1)
	}

	for _, out := range result.Outputs {
		fmt.Println(out)
	}
}

// loadTable 读取压缩表, 从原始 apk 读取时应用 mapping 与强制压缩规则
func loadTable(conf *config.Configuration, tablePath, sourceAPK string) (domain.CompressionTable, error) {
	if tablePath != "" {
		return domain.LoadCompressionTable(tablePath)
	}

	source, err := archive.ResolveSourceAPK(sourceAPK)
	if err != nil {
		return nil, err
	}
	table, err := archive.ReadCompressionTable(source)
	if err != nil {
		return nil, err
	}
	return conf.PrepareCompressionTable(table), nil
}
