package api

import "github.com/redis/go-redis/v9"

// CacheBidScript 用於同步出價快取並廣播出價事件
//  KEYS[1] - 拍賣快取鍵
//  KEYS[2] - 出價的 stream
//  ARGV[1] - 出價金額
//  ARGV[2] - 序列化後的出價紀錄
//  ARGV[3] - 快取過期秒數
//
// 返回值:
//  1 - 快取已更新
//  0 - 快取已有更高金額，維持原值
//
// 流程:
//  - 1. 檢查快取鍵是否存在
//  - 2a. 如果不存在，直接寫入出價金額
//  - 2b. 如果存在，只在新金額較高時更新
//  - 3. 將出價紀錄寫入stream
// 出價本身已由拍賣引擎裁決，所以不論快取是否更新，紀錄都要寫入stream
var CacheBidScript = redis.NewScript(`
-- 取得當前快取的最高出價
local current_bid = tonumber(redis.call('GET', KEYS[1]))
local new_bid = tonumber(ARGV[1])

local updated = 0
if current_bid == nil or new_bid > current_bid then
    redis.call('SET', KEYS[1], new_bid, 'EX', tonumber(ARGV[3]))
    updated = 1
end

-- 將出價紀錄寫入 stream
redis.call('XADD', KEYS[2], '*', 'data', ARGV[2])

return updated
`)
