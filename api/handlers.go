package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	internalS3 "bazaar/adapters/s3"
	"bazaar/market"
	"bazaar/models"
)

// statusFromError 將市場層錯誤對應到HTTP狀態碼
func statusFromError(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidInput),
		errors.Is(err, market.ErrInsufficientBid),
		errors.Is(err, market.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrAlreadyListed):
		return http.StatusConflict
	case errors.Is(err, market.ErrExpired),
		errors.Is(err, market.ErrAlreadyEnded):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// requireCaller 解析並驗證請求帶的存取憑證，失敗時直接回傳401
func (impl *ServerImpl) requireCaller(c *gin.Context) (*AccessToken, uuid.UUID, bool) {
	const op = "requireCaller"
	tokenString, ok := extractAccessToken(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	token, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PrivateKey)
	if err != nil {
		slog.Error("Fail to parse and validate JWT", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	account, err := uuid.Parse(token.Subject)
	if err != nil {
		slog.Error("Fail to parse token subject", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	return token, account, true
}

func paramUint64(c *gin.Context, name string) (uint64, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": fmt.Sprintf("Invalid %s", name),
		})
		return 0, false
	}
	return value, true
}

// Register a new account
// (POST /auth/register)
func (impl *ServerImpl) PostAuthRegister(c *gin.Context) {
	const op = "PostAuthRegister"
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	account := uuid.New()
	tokenString, err := IssueJWT(account, body.Name, impl.config.Auth)
	if err != nil {
		slog.Error("Fail to issue JWT", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.SetCookie("access_token", tokenString, int(impl.config.Auth.ExpireDuration.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{
		"account":     account,
		"accessToken": tokenString,
	})
}

// Get account balance
// (GET /account/balance)
func (impl *ServerImpl) GetAccountBalance(c *gin.Context) {
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": impl.ledger.Balance(account),
	})
}

// Deposit funds into the caller's account
// (POST /account/deposit)
func (impl *ServerImpl) PostAccountDeposit(c *gin.Context) {
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	var body struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Amount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid deposit amount"})
		return
	}
	impl.ledger.Credit(account, body.Amount)
	c.JSON(http.StatusOK, gin.H{
		"balance": impl.ledger.Balance(account),
	})
}

// List assets owned by an account
// (GET /account/{accountID}/assets)
func (impl *ServerImpl) GetAccountAssets(c *gin.Context) {
	owner, err := uuid.Parse(c.Param("accountID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid accountID"})
		return
	}
	assets := impl.registry.AssetsOf(owner)
	c.JSON(http.StatusOK, gin.H{
		"count":  len(assets),
		"assets": assets,
	})
}

// Mint a new asset
// (POST /asset)
func (impl *ServerImpl) PostAsset(c *gin.Context) {
	const op = "PostAsset"
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	assetID, err := impl.registry.Mint(account, body.Name)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Asset name is too long"})
		return
	}
	// 在DB歸檔資產
	asset := models.Asset{
		AssetID: assetID,
		Name:    body.Name,
		Owner:   account,
	}
	if result := impl.db.Create(&asset); result.Error != nil {
		slog.Error("Fail to archive asset", slog.String("op", op), slog.Any("error", result.Error))
	}
	c.Header("Location", strconv.FormatUint(assetID, 10))
	c.JSON(http.StatusCreated, gin.H{"assetID": assetID})
}

// Get asset details
// (GET /asset/{assetID})
func (impl *ServerImpl) GetAsset(c *gin.Context) {
	const op = "GetAsset"
	assetID, ok := paramUint64(c, "assetID")
	if !ok {
		return
	}
	asset, err := impl.registry.Get(assetID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Asset does not exist."})
		return
	}
	// 附帶歸檔的媒體紀錄
	media := make([]string, 0)
	record := models.Asset{AssetID: assetID}
	if result := impl.db.Preload("Media").First(&record); result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Error("Fail to find asset archive", slog.String("op", op), slog.Any("error", result.Error))
		}
	} else {
		media = lo.Map(record.Media, func(m models.AssetMedia, _ int) string { return m.Url })
	}
	output := gin.H{
		"assetID": assetID,
		"name":    asset.Name,
		"owner":   asset.Owner,
		"media":   media,
	}
	if number, listed := impl.marketplace.OpenListing(assetID); listed {
		output["openAuction"] = number
	}
	c.JSON(http.StatusOK, output)
}

// Get asset owner
// (GET /asset/{assetID}/owner)
func (impl *ServerImpl) GetAssetOwner(c *gin.Context) {
	assetID, ok := paramUint64(c, "assetID")
	if !ok {
		return
	}
	owner, err := impl.registry.OwnerOf(assetID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Asset does not exist."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner})
}

// Transfer asset ownership
// (POST /asset/{assetID}/transfer)
func (impl *ServerImpl) PostAssetTransfer(c *gin.Context) {
	const op = "PostAssetTransfer"
	assetID, ok := paramUint64(c, "assetID")
	if !ok {
		return
	}
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	var body struct {
		NewOwner uuid.UUID `json:"newOwner"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.NewOwner == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid new owner"})
		return
	}
	if err := impl.registry.TransferTo(account, body.NewOwner, assetID); err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "You are not the owner."})
		return
	}
	if result := impl.db.Model(&models.Asset{}).Where("asset_id = ?", assetID).Update("owner", body.NewOwner); result.Error != nil {
		slog.Error("Fail to archive asset transfer", slog.String("op", op), slog.Any("error", result.Error))
	}
	c.Status(http.StatusOK)
}

// Rename an asset
// (PATCH /asset/{assetID}/name)
func (impl *ServerImpl) PatchAssetName(c *gin.Context) {
	const op = "PatchAssetName"
	assetID, ok := paramUint64(c, "assetID")
	if !ok {
		return
	}
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if err := impl.registry.EditName(account, assetID, body.Name); err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Fail to rename asset"})
		return
	}
	if result := impl.db.Model(&models.Asset{}).Where("asset_id = ?", assetID).Update("name", body.Name); result.Error != nil {
		slog.Error("Fail to archive asset rename", slog.String("op", op), slog.Any("error", result.Error))
	}
	c.Status(http.StatusOK)
}

// Upload a media file for an asset
// (POST /asset/{assetID}/media)
func (impl *ServerImpl) PostAssetMedia(c *gin.Context) {
	const op = "PostAssetMedia"
	assetID, ok := paramUint64(c, "assetID")
	if !ok {
		return
	}
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	// 只有資產擁有者可以上傳媒體
	owner, err := impl.registry.OwnerOf(assetID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Asset does not exist."})
		return
	}
	if owner != account {
		c.JSON(http.StatusForbidden, gin.H{"message": "You are not the owner."})
		return
	}
	// 檢查是否達到上傳限制
	var uploadedCount int64
	if result := impl.db.Model(&models.AssetMedia{}).Where("uploader_id = ? AND created_at > ?", account, time.Now().Add(-1*time.Hour)).Count(&uploadedCount); result.Error != nil {
		slog.Error("Fail to count uploaded media", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if impl.config.S3.RateLimitPerHour > 0 && uploadedCount >= impl.config.S3.RateLimitPerHour {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	// 限制媒體檔案
	// 	1. 小於5MB
	// 	2. MIME類型為不包含腳本的圖片檔案
	body := internalS3.NewMaxSizeReader(c.Request.Body, 5<<20)
	file, err := io.ReadAll(body)
	if errors.As(err, &internalS3.ErrReachLimitType) {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Fail to read media", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	mimeType := http.DetectContentType(file)
	secure, ext := internalS3.CheckSecureMediaAndGetExtension(mimeType)
	if !secure {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("Invalid media type: %s", mimeType)})
		return
	}
	// 透過S3 API儲存媒體
	url, err := impl.s3Operator.Upload(c.Request.Context(), uuid.New().String()+"."+ext, mimeType, file)
	if err != nil {
		slog.Error("Fail to upload media", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	// 在DB紀錄媒體的上傳紀錄
	media := models.AssetMedia{
		AssetID:    assetID,
		UploaderID: account,
		Url:        url,
	}
	if result := impl.db.Create(&media); result.Error != nil {
		slog.Error("Fail to archive media", slog.String("op", op), slog.Any("error", result.Error))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Header("Location", url)
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// Put an asset up for auction
// (POST /asset/{assetID}/listing)
func (impl *ServerImpl) PostAssetListing(c *gin.Context) {
	const op = "PostAssetListing"
	assetID, ok := paramUint64(c, "assetID")
	if !ok {
		return
	}
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	var body struct {
		FloorPrice      uint64 `json:"floorPrice"`
		MaxPrice        uint64 `json:"maxPrice"`
		DurationSeconds uint64 `json:"durationSeconds"`
		Note            string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	// 處理上架說明
	body.Note = impl.htmlChecker.Sanitize(body.Note)

	duration := time.Duration(body.DurationSeconds) * time.Second
	number, auction, err := impl.marketplace.ListAsset(account, body.FloorPrice, body.MaxPrice, duration, assetID)
	if err != nil {
		message := "Fail to list asset"
		switch {
		case errors.Is(err, market.ErrNotFound):
			message = "Asset does not exist."
		case errors.Is(err, market.ErrUnauthorized):
			message = "You are not the owner."
		case errors.Is(err, market.ErrAlreadyListed):
			message = "Already put an asset for sale."
		case errors.Is(err, market.ErrInvalidInput):
			message = "Invalid auction parameters"
		}
		c.JSON(statusFromError(err), gin.H{"message": message})
		return
	}
	// 在DB歸檔拍賣
	record := models.Auction{
		Number:      number,
		AssetID:     assetID,
		Beneficiary: account,
		FloorPrice:  auction.FloorPrice(),
		MaxPrice:    auction.MaxPrice(),
		Deadline:    auction.Deadline(),
		Note:        body.Note,
	}
	if result := impl.db.Create(&record); result.Error != nil {
		slog.Error("Fail to archive auction", slog.String("op", op), slog.Any("error", result.Error))
	}
	slog.Info("Asset listed", slog.Uint64("assetID", assetID), slog.Uint64("auction", number), slog.String("beneficiary", account.String()))
	c.Header("Location", strconv.FormatUint(number, 10))
	c.JSON(http.StatusCreated, gin.H{"auction": number})
}

// Get auction details
// (GET /auction/{number})
func (impl *ServerImpl) GetAuction(c *gin.Context) {
	const op = "GetAuction"
	number, ok := paramUint64(c, "number")
	if !ok {
		return
	}
	auction, err := impl.marketplace.Auction(number)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Auction does not exist"})
		return
	}
	assetID, err := impl.marketplace.AssetOf(number)
	if err != nil {
		slog.Error("Fail to find auction asset", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	// 附帶歸檔的出價紀錄和上架說明
	note := ""
	bidRecords := make([]BidEvent, 0)
	record := models.Auction{Number: number}
	if result := impl.db.
		Preload(
			"BidRecords",
			func(db *gorm.DB) *gorm.DB {
				return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true})
			}).
		First(&record); result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Error("Fail to find auction archive", slog.String("op", op), slog.Any("error", result.Error))
		}
	} else {
		note = record.Note
		bidRecords = lo.Map(record.BidRecords, func(bid models.Bid, _ int) BidEvent {
			return BidEvent{
				Bid:  bid.Amount,
				Time: bid.CreatedAt,
			}
		})
	}

	output := gin.H{
		"number":      number,
		"assetID":     assetID,
		"beneficiary": auction.Beneficiary(),
		"floorPrice":  auction.FloorPrice(),
		"maxPrice":    auction.MaxPrice(),
		"currentBid":  auction.CurrentBid(),
		"deadline":    auction.Deadline(),
		"ended":       auction.Ended(),
		"instantBuy":  auction.InstantBuy(),
		"note":        note,
		"bidRecords":  bidRecords,
	}
	if bidder, has := auction.MaxBidder(); has {
		output["maxBidder"] = bidder
	}
	c.JSON(http.StatusOK, output)
}

// Place a bid on an auction
// (POST /auction/{number}/bids)
func (impl *ServerImpl) PostAuctionBids(c *gin.Context) {
	const op = "PostAuctionBids"
	number, ok := paramUint64(c, "number")
	if !ok {
		return
	}
	token, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	var body struct {
		Bid uint64 `json:"bid"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	auction, err := impl.marketplace.Auction(number)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Auction does not exist"})
		return
	}
	// 出價由拍賣引擎裁決
	if err := auction.Bid(account, body.Bid); err != nil {
		message := "Fail to place bid"
		switch {
		case errors.Is(err, market.ErrInsufficientBid):
			message = "There already is a higher bid."
		case errors.Is(err, market.ErrInsufficientFunds):
			message = "Insufficient balance"
		case errors.Is(err, market.ErrExpired):
			message = "Auction has ended"
		case errors.Is(err, market.ErrUnauthorized):
			message = "You already hold the highest bid"
		}
		c.JSON(statusFromError(err), gin.H{"message": message})
		return
	}

	// 準備出價紀錄
	auctionKey := fmt.Sprintf("%sauction:%d", impl.config.Redis.KeyPrefix, number)
	bidInfo := BidInfo{
		AuctionNumber: number,
		Bidder: BidInfoBidder{
			ID:   account,
			Name: token.Name,
		},
		Amount:    body.Bid,
		CreatedAt: time.Now(),
	}
	bidInfoBytes, err := msgpack.Marshal(bidInfo)
	if err != nil {
		slog.Error("Fail to marshal bid info", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	bidInfoBase64 := base64.StdEncoding.EncodeToString(bidInfoBytes)
	expireTime := impl.config.Redis.ExpireTime.Seconds()
	// 透過Lua script同步快取並把出價紀錄寫入stream
	if _, err := CacheBidScript.Run(c.Request.Context(), impl.redisClient, []string{auctionKey, impl.config.Redis.StreamKeys.BidStream}, body.Bid, bidInfoBase64, expireTime).Int(); err != nil {
		slog.Error("Fail to cache bid", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	slog.Info("Higher bid occurs", slog.String("bidder", account.String()), slog.Uint64("bid", body.Bid), slog.Uint64("auction", number))
	c.JSON(http.StatusOK, gin.H{
		"currentBid": auction.CurrentBid(),
		"ended":      auction.Ended(),
		"instantBuy": auction.InstantBuy(),
	})
}

// Settle an auction
// (POST /auction/{number}/settlement)
func (impl *ServerImpl) PostAuctionSettlement(c *gin.Context) {
	const op = "PostAuctionSettlement"
	number, ok := paramUint64(c, "number")
	if !ok {
		return
	}
	_, account, ok := impl.requireCaller(c)
	if !ok {
		return
	}
	auction, err := impl.marketplace.Auction(number)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Auction does not exist"})
		return
	}
	if err := auction.Settle(account); err != nil {
		message := "Fail to settle auction"
		switch {
		case errors.Is(err, market.ErrUnauthorized):
			message = "Only the beneficiary can settle"
		case errors.Is(err, market.ErrAlreadyEnded):
			message = "Auction has already been settled"
		}
		c.JSON(statusFromError(err), gin.H{"message": message})
		return
	}
	// 在DB歸檔拍賣結果
	updates := map[string]any{
		"ended":       true,
		"instant_buy": auction.InstantBuy(),
	}
	// 流標時沒有成交價
	if winner, has := auction.MaxBidder(); has {
		updates["winner"] = winner
		updates["hammer_price"] = auction.CurrentBid()
	}
	if result := impl.db.Model(&models.Auction{}).Where("number = ?", number).Updates(updates); result.Error != nil {
		slog.Error("Fail to archive auction result", slog.String("op", op), slog.Any("error", result.Error))
	}
	slog.Info("Auction settled", slog.Uint64("auction", number), slog.String("beneficiary", account.String()), slog.Uint64("hammerPrice", auction.CurrentBid()))
	c.Status(http.StatusOK)
}

// Track auction bid events
// (GET /auction/{number}/events)
func (impl *ServerImpl) GetAuctionEvents(c *gin.Context) {
	const op = "GetAuctionEvents"
	number, ok := paramUint64(c, "number")
	if !ok {
		return
	}
	auction, err := impl.marketplace.Auction(number)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"message": "Auction does not exist"})
		return
	}
	// 已結束的拍賣不再有新事件
	if auction.Ended() {
		c.JSON(http.StatusGone, gin.H{"message": "Auction has ended"})
		return
	}
	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	topic := strconv.FormatUint(number, 10)
	ch, err := impl.broker.Subscribe(topic)
	if err != nil {
		slog.Error("Fail to subscribe to auction events", slog.String("op", op), slog.Any("error", err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
LOOP:
	for {
		select {
		case <-w.CloseNotify():
			impl.broker.Unsubscribe(topic, ch)
			break LOOP
		case event := <-ch:
			c.SSEvent("bid", event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}
