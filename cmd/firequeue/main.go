package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/RezaEskandarii/firequeue/client"
	"github.com/RezaEskandarii/firequeue/internal/cli"
	"github.com/RezaEskandarii/firequeue/internal/codec"
	"github.com/RezaEskandarii/firequeue/types"
)

type SendSmsJob struct {
	types.BaseJob
	To      string `json:"to"`
	Message string `json:"message"`
}

func (*SendSmsJob) Name() string { return "send_sms" }

func (j *SendSmsJob) Handle(ctx context.Context) error {
	if !strings.HasPrefix(j.To, "+") {
		return fmt.Errorf("invalid phone number %q", j.To)
	}
	log.Printf("Sending SMS to %s: %s", j.To, j.Message)
	return nil
}

func (j *SendSmsJob) Failed(_ context.Context, err error) {
	log.Printf("SMS to %s given up: %v", j.To, err)
}

type DailySalesReportJob struct {
	types.BaseJob
}

func (*DailySalesReportJob) Name() string { return "daily_sales_report" }

func (*DailySalesReportJob) Handle(ctx context.Context) error {
	log.Println("Generating daily sales report")
	return nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	registry := codec.NewRegistry()
	codec.MustRegisterType[SendSmsJob](registry)
	codec.MustRegisterType[DailySalesReportJob](registry)

	rootCmd := cli.BuildCLI(registry, func(s *client.Scheduler) error {
		_, err := s.Schedule("0 0 * * *", func() types.Job {
			return &DailySalesReportJob{}
		})
		return err
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
