package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/arzzra/media_negotiation/pkg/media_sdp"
	"github.com/pkg/errors"
)

func main() {
	var (
		configPath = flag.String("config", "", "INI файл с секцией [negotiation]")
		roundTrip  = flag.Bool("roundtrip", false, "Вывести пересобранный первый SDP и проверить повторный разбор")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Использование: %s [-config negotiation.ini] [-roundtrip] a.sdp b.sdp\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := media_sdp.DefaultNegotiationConfig()
	if *configPath != "" {
		loaded, err := media_sdp.LoadNegotiationConfig(*configPath)
		if err != nil {
			log.Fatalf("Ошибка загрузки конфигурации: %v", err)
		}
		cfg = loaded
	}

	if err := run(os.Stdout, cfg, flag.Arg(0), flag.Arg(1), *roundTrip); err != nil {
		log.Fatalf("Ошибка: %v", err)
	}
}

func parseOptions(cfg media_sdp.NegotiationConfig) []media_sdp.ParseOption {
	return []media_sdp.ParseOption{
		media_sdp.WithCfgLinesMerged(cfg.CfgLinesMerged),
		media_sdp.WithAcceptBundles(cfg.Bundle),
	}
}

func loadDescription(path string, opts []media_sdp.ParseOption) (*media_sdp.MediaDescription, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "чтение %s", path)
	}
	md, err := media_sdp.ParseMediaDescription(blob, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "разбор %s", path)
	}
	return md, nil
}

// run сравнивает два SDP файла и печатает причины различий
func run(out io.Writer, cfg media_sdp.NegotiationConfig, pathA, pathB string, roundTrip bool) error {
	opts := parseOptions(cfg)
	a, err := loadDescription(pathA, opts)
	if err != nil {
		return err
	}
	b, err := loadDescription(pathB, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, media_sdp.PrintDifferences(a.Equal(b)))

	if !roundTrip {
		return nil
	}
	blob, err := a.Marshal()
	if err != nil {
		return errors.Wrapf(err, "сериализация %s", pathA)
	}
	fmt.Fprintf(out, "\n%s\n", blob)
	again, err := media_sdp.ParseMediaDescription(blob, opts...)
	if err != nil {
		return errors.Wrap(err, "повторный разбор")
	}
	fmt.Fprintf(out, "roundtrip: %s\n", media_sdp.PrintDifferences(a.Equal(again)))
	return nil
}
