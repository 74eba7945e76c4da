package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	internalS3 "bazaar/adapters/s3"
	"bazaar/adapters/sse"
	"bazaar/adapters/stream"
	"bazaar/market"
	"bazaar/models"
)

type ServerImpl struct {
	registry      *market.AssetRegistry
	ledger        *market.MemoryLedger
	marketplace   *market.Marketplace
	broker        *sse.Broker[BidEvent]
	subscriber    *stream.Subscriber[sse.Envelope[BidEvent]]
	groupConsumer *stream.GroupConsumer[BidInfo]
	s3Operator    *internalS3.Operator
	htmlChecker   *bluemonday.Policy
	redisClient   *redis.Client
	wg            sync.WaitGroup
	cancelFunc    context.CancelFunc
	db            *gorm.DB

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化核心市場元件
	registry := market.NewAssetRegistry()
	ledger := market.NewMemoryLedger()
	marketplace := market.NewMarketplace(registry, ledger)

	// 初始化S3客戶端
	s3Cfg, err := awsCfg.LoadDefaultConfig(
		context.Background(),
		awsCfg.WithBaseEndpoint(config.S3.Endpoint),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
		awsCfg.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	s3Operator, err := internalS3.NewOperator(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化stream訂閱者，把stream上的出價紀錄轉成SSE事件
	subscriber, err := stream.NewSubscriber(
		redisClient,
		config.Redis.StreamKeys.BidStream,
		stream.WithSubscriberDecodeFunc(func(m map[string]any) (sse.Envelope[BidEvent], error) {
			bidInfo, err := stream.DecodeMessage[BidInfo](m)
			if err != nil {
				return sse.Envelope[BidEvent]{}, fmt.Errorf("fail to parse message to sse.Envelope[BidEvent], err=%w", err)
			}
			return sse.Envelope[BidEvent]{
				Topic: fmt.Sprintf("%d", bidInfo.AuctionNumber),
				Message: BidEvent{
					Bid:    bidInfo.Amount,
					Bidder: bidInfo.Bidder.Name,
					Time:   bidInfo.CreatedAt,
				},
			}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create stream subscriber, err=%w", op, err)
	}

	// 初始化group consumer，同一時間只允許一個節點把出價歸檔回資料庫
	groupMutex := stream.NewRenewMutex(redisClient, config.Redis.KeyPrefix+"bid-sync:lock")
	groupConsumer, err := stream.NewGroupConsumer[BidInfo](
		redisClient,
		config.Redis.StreamKeys.BidStream,
		config.Redis.ConsumerGroup,
		config.ID,
		stream.WithGroupConsumerLogger[BidInfo](slog.Default()),
		stream.WithGroupConsumerMutex[BidInfo](groupMutex),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
	}

	return &ServerImpl{
		registry:      registry,
		ledger:        ledger,
		marketplace:   marketplace,
		subscriber:    subscriber,
		groupConsumer: groupConsumer,
		s3Operator:    s3Operator,
		htmlChecker:   bluemonday.UGCPolicy(),
		redisClient:   redisClient,
		db:            db,
		config:        config,
	}, nil
}

func (impl *ServerImpl) Start() error {
	const op = "Start"
	// 啟動stream訂閱者
	impl.subscriber.Start()
	// 啟動SSE broker，上游接stream訂閱者
	impl.broker = sse.NewBroker(
		sse.WithBrokerLogger[BidEvent](slog.Default()),
		sse.WithBrokerSource(impl.subscriber.Subscribe()),
	)
	impl.broker.Start()
	// 啟動group consumer
	if err := impl.groupConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start group consumer, err=%w", op, err)
	}
	// 啟動一個worker用於將Redis中的出價紀錄存回資料庫
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	slog.Info("Start bid synchronization worker")
	impl.wg.Add(1)
	go func() {
		logger := slog.Default().With(slog.String("caller", "BidSynchronize"))
		defer impl.wg.Done()
		defer slog.Info("Bid synchronization worker stopped")
		ch := impl.groupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive message")
				handle := func() error {
					// 歸檔出價紀錄
					record := models.Bid{
						AuctionNumber: msg.Data.AuctionNumber,
						Bidder:        msg.Data.Bidder.ID,
						Amount:        msg.Data.Amount,
					}
					if result := impl.db.Create(&record); result.Error != nil {
						return fmt.Errorf("fail to create bid record, err=%w", result.Error)
					}
					// 同步拍賣結果，只有這筆出價讓拍賣結束(直購)時才需要更新
					auction, err := impl.marketplace.Auction(msg.Data.AuctionNumber)
					if err != nil {
						return fmt.Errorf("fail to find auction, err=%w", err)
					}
					if !auction.Ended() {
						return nil
					}
					updates := map[string]any{
						"ended":       true,
						"instant_buy": auction.InstantBuy(),
					}
					if winner, ok := auction.MaxBidder(); ok {
						updates["winner"] = winner
						updates["hammer_price"] = auction.CurrentBid()
					}
					if result := impl.db.Model(&models.Auction{}).Where("number = ?", msg.Data.AuctionNumber).Updates(updates); result.Error != nil {
						return fmt.Errorf("fail to update auction result, err=%w", result.Error)
					}
					return nil
				}
				handleErr := handle()
				if handleErr != nil {
					logger.Error("Fail to synchronize bid", slog.Any("error", handleErr))
					if err := msg.Fail(ctx, handleErr); err != nil {
						logger.Error("Fail to fail message", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Sync success but fail to done message", slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Sync success but fail to fail message", slog.Any("error", err))
					}
					continue
				}
				logger.Debug("Synchronize success")
			}
		}
	}()
	return nil
}

func (impl *ServerImpl) Close() {
	// 關閉group consumer
	impl.groupConsumer.Close()
	// 關閉worker
	impl.cancelFunc()
	impl.wg.Wait()
	// 關閉stream訂閱者
	impl.subscriber.Close()
	// 關閉SSE broker
	impl.broker.Done()
}

// RegisterRoutes 註冊所有HTTP路由
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.POST("/auth/register", impl.PostAuthRegister)

	router.GET("/account/balance", impl.GetAccountBalance)
	router.POST("/account/deposit", impl.PostAccountDeposit)
	router.GET("/account/:accountID/assets", impl.GetAccountAssets)

	router.POST("/asset", impl.PostAsset)
	router.GET("/asset/:assetID", impl.GetAsset)
	router.GET("/asset/:assetID/owner", impl.GetAssetOwner)
	router.POST("/asset/:assetID/transfer", impl.PostAssetTransfer)
	router.PATCH("/asset/:assetID/name", impl.PatchAssetName)
	router.POST("/asset/:assetID/media", impl.PostAssetMedia)
	router.POST("/asset/:assetID/listing", impl.PostAssetListing)

	router.GET("/auction/:number", impl.GetAuction)
	router.POST("/auction/:number/bids", impl.PostAuctionBids)
	router.POST("/auction/:number/settlement", impl.PostAuctionSettlement)
	router.GET("/auction/:number/events", impl.GetAuctionEvents)
}
