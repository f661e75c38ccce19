package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgOk            = `好的！`
	MsgUnexpectedErr = `意外错误：%s`
	MsgStartPrompt   = "发送一张图片，我会提取关键词并为它写一首诗。"
	MsgVersionInfo   = "版本：%s\n构建时间：%s"
	MsgCancelled     = "已取消，发送新图片重新开始。"
	MsgNothingToDo   = "请先发送一张图片。"
)

// =============================================================================
// Analysis and composition messages
// =============================================================================

const (
	MsgAnalyzing           = "正在识别图片，请稍候…"
	MsgComposing           = "正在以「%s」作诗，请稍候…"
	MsgBusy                = "上一个操作还没有完成，请稍候。"
	MsgOperationFailed     = "⚠️ %s"
	MsgImageDownloadFailed = "图片下载失败：%s"
	MsgImageDecodeFailed   = "无法读取这张图片：%s"
	MsgNoKeywords          = "没能从图片中提取到关键词。可以直接发送关键词（用逗号分隔），或换一张图片。"
	MsgKeywordParseFailed  = "关键词格式无法解析：%s"
	MsgCaption             = "*图片描述*\n%s"
	MsgSelectKeywords      = "请选择用于作诗的关键词，也可以直接发送文字添加关键词："
	MsgSelectForm          = "请选择诗歌体裁："
	MsgKeywordsAdded       = "已添加关键词：%s"
	MsgPoem                = "*%s*\n\n%s"
	MsgNoKeywordsToAdd     = "没有识别到关键词。"
	MsgNotReadyForKeywords = "现在不能添加关键词，请先发送图片并等待识别完成。"
)

// =============================================================================
// Button labels
// =============================================================================

const (
	BtnSelectAll   = "全选"
	BtnDone        = "完成"
	BtnChangeForm  = "换个体裁"
	BtnChangeWords = "重选关键词"
	BtnRetry       = "重新识别"
	BtnSelected    = "✅ %s"
	BtnPreferred   = "⭐ %s"
)

// =============================================================================
// Preferred form messages
// =============================================================================

const (
	MsgFormCurrent  = "当前默认体裁：*%s*\n选择新的默认体裁："
	MsgFormUpdated  = "✅ 默认体裁已设为：%s"
	MsgFormInvalid  = "未知体裁：%s"
	MsgFormNotSaved = "体裁设置不可用"
)

// =============================================================================
// History messages
// =============================================================================

const (
	MsgHistoryEmpty   = "还没有写过诗。"
	MsgHistoryHeader  = "*最近的诗：*\n\n"
	MsgHistoryEntry   = "*%s* · %s\n关键词：%s\n%s\n\n"
	MsgHistoryCleared = "🗑 已删除 %d 首诗。"
	MsgHistoryUsage   = "用法：\n`/history` 查看最近的诗\n`/history clear` 清空记录"
)

// =============================================================================
// Admin command messages
// =============================================================================

const (
	MsgAdminUsage           = "用法：\n`/admin users add <user_id>`\n`/admin users remove <user_id>`\n`/admin users list`"
	MsgAdminUserAddUsage    = "用法：`/admin users add <user_id>`"
	MsgAdminUserRemoveUsage = "用法：`/admin users remove <user_id>`"
	MsgAdminUserInvalidID   = "无效的用户 ID，请输入数字。"
	MsgAdminUserAdded       = "✅ 已添加用户 `%d`。"
	MsgAdminUserRemoved     = "🗑 已移除用户 `%d`。"
	MsgAdminNoUsers         = "没有允许的用户。"
	MsgAdminAllowedUsers    = "*允许的用户：*\n"
)
