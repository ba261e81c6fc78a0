package cmd

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"relay-core/internal/event"
	"relay-core/internal/service/mq"
	"relay-core/pkg/config"
	"relay-core/pkg/database"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "订阅中继事件 (relay.submitted / relay.finalized / relay.rejected)",
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		cfg := config.Global

		var rdb redis.UniversalClient
		if mq.NeedsRedis(cfg) {
			client, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer client.Close()
			rdb = client
		}

		consumer, err := mq.NewConsumer(cfg, rdb, group, "cli-"+uuid.NewString()[:8])
		if errors.Is(err, mq.ErrDisabled) {
			return errors.New("redis.mq_type=none，服务端不发布事件")
		}
		if err != nil {
			return err
		}
		defer consumer.Close()

		fmt.Printf("正在订阅 %s (%s)，Ctrl+C 退出\n", event.Topic, cfg.Redis.MQType)
		err = consumer.Subscribe(cmd.Context(), event.Topic, func(msg *mq.Message) error {
			e, err := event.Decode(msg.Payload)
			if err != nil {
				// 无法解析的消息直接确认，避免反复重投
				fmt.Printf("跳过无法解析的消息 %s: %v\n", msg.ID, err)
				return nil
			}
			line := fmt.Sprintf("%s  %-16s id=%s key=%s status=%s", e.OccurredAt.Format("15:04:05"), e.Type, e.ID, e.DedupKey, e.Status)
			if e.TxHash != "" {
				line += " tx=" + e.TxHash
			}
			if e.Error != "" {
				line += " error=" + e.Error
			}
			fmt.Println(line)
			return nil
		})
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().String("group", "relayer-cli", "消费者组 (NATS 中为 durable 名)")
}
