package services

import (
	"context"
	"fmt"
	"strings"

	"fleet-notify/internal/domain/notification"
	"fleet-notify/internal/repository"
)

// Renderer turns a queue entry into the outbound message body
type Renderer interface {
	Render(ctx context.Context, entry notification.QueueEntry) (string, error)
}

// MessageRenderer resolves builtin notification types first and falls back
// to database templates keyed by event name. A type with neither yields
// ErrTemplateNotFound and the entry fails like any other send error.
type MessageRenderer struct {
	templates repository.MessageRepository
}

func NewMessageRenderer(templates repository.MessageRepository) *MessageRenderer {
	return &MessageRenderer{templates: templates}
}

func (r *MessageRenderer) Render(ctx context.Context, entry notification.QueueEntry) (string, error) {
	if body, ok := builtinMessage(entry.Type, entry.Variables); ok {
		return body, nil
	}

	tpl, err := r.templates.GetTemplateByEvent(ctx, entry.Type)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", entry.Type, err)
	}
	return SubstituteVars(tpl.Content, entry.Variables), nil
}

// SubstituteVars replaces {{key}} placeholders with the given values.
// Placeholders without a matching key are left literal.
func SubstituteVars(content string, vars map[string]any) string {
	for key, val := range vars {
		content = strings.ReplaceAll(content, "{{"+key+"}}", fmt.Sprint(val))
	}
	return content
}

func builtinMessage(notificationType string, vars map[string]any) (string, bool) {
	switch notificationType {
	case notification.TypeTrialWelcome:
		return trialWelcomeMessage(vars), true
	case notification.TypePaidWelcome:
		return paidWelcomeMessage(vars), true
	case notification.TypeExpiryReminder:
		return expiryReminderMessage(vars), true
	case notification.TypeExpiryUrgent:
		return expiryUrgentMessage(vars), true
	default:
		return "", false
	}
}

func varString(vars map[string]any, key, fallback string) string {
	v, ok := vars[key]
	if !ok || v == nil {
		return fallback
	}
	s := fmt.Sprint(v)
	if s == "" {
		return fallback
	}
	return s
}

func trialWelcomeMessage(vars map[string]any) string {
	return fmt.Sprintf(`🎉 *مرحباً بك في مدير الأسطول!*

✅ تم تفعيل فترة التجربة المجانية بنجاح

*📋 تفاصيل الاشتراك:*
━━━━━━━━━━━━━━━━━━━
👤 الاسم: %s
🏢 المنشأة: %s
📦 الباقة: %s (تجريبية)

*📅 التواريخ:*
━━━━━━━━━━━━━━━━━━━
📆 تاريخ البدء: %s
⏰ تاريخ الانتهاء: %s

*🚀 ما يمكنك فعله أثناء الفترة التجريبية:*
━━━━━━━━━━━━━━━━━━━
✅ إدارة أسطولك الكامل
✅ تسجيل حركات السيارات
✅ إدارة المصروفات والدخل
✅ متابعة الصيانة الدورية
✅ تقارير وإحصائيات شاملة
✅ إدارة فريق العمل

*⚠️ ملاحظة مهمة:*
فترة التجربة مجانية تماماً لمدة 14 يوماً. بعد انتهاء الفترة، يمكنك اختيار الباقة المناسبة لاحتياجاتك.

🚀 *ابدأ الآن واستمتع بتجربة إدارة أسطولك بسهولة!*`,
		varString(vars, "userName", ""),
		varString(vars, "orgName", ""),
		varString(vars, "planNameAr", "تجريبي"),
		varString(vars, "startDate", ""),
		varString(vars, "endDate", ""),
	)
}

func paidWelcomeMessage(vars map[string]any) string {
	return fmt.Sprintf(`✅ *تم تفعيل اشتراكك بنجاح!*

🎊 شكراً لاشتراكك في مدير الأسطول

*📋 تفاصيل الاشتراك:*
━━━━━━━━━━━━━━━━━━━
👤 الاسم: %s
🏢 المنشأة: %s
📦 الباقة: %s

*📅 التواريخ:*
━━━━━━━━━━━━━━━━━━━
📆 تاريخ البدء: %s
⏰ تاريخ الانتهاء: %s

*🚀 الميزات المتاحة:*
━━━━━━━━━━━━━━━━━━━
✅ إدارة أسطول غير محدود
✅ تقارير مالية متقدمة
✅ نظام تنبيهات ذكي
✅ إدارة فريق العمل
✅ تتبع الصيانة الدورية
✅ تصدير البيانات

*💡 نصائح للبدء:*
━━━━━━━━━━━━━━━━━━━
1️⃣ أضف سياراتك للنظام
2️⃣ سجل أول حركة مالية
3️⃣ دعوة أعضاء الفريق
4️⃣ استكشف التقارير والإحصائيات

🚀 *نتمنى لك تجربة رائعة مع مدير الأسطول!*`,
		varString(vars, "userName", ""),
		varString(vars, "orgName", ""),
		varString(vars, "planNameAr", ""),
		varString(vars, "startDate", ""),
		varString(vars, "endDate", ""),
	)
}

func expiryReminderMessage(vars map[string]any) string {
	return fmt.Sprintf(`⚠️ *تذكير بانتهاء الاشتراك*

━━━━━━━━━━━━━━━━━━━
👤 %s
🏢 %s

*⏰ اشتراكك سينتهي خلال %s أيام*

━━━━━━━━━━━━━━━━━━━
📅 تاريخ الانتهاء: %s
📦 الباقة الحالية: %s

*🔄 لتجنب انقطاع الخدمة:*
━━━━━━━━━━━━━━━━━━━
يمكنك تجديد الاشتراك من لوحة التحكم
اختر "الاشتراكات" من القائمة الجانبية

*💳 خيارات الدفع المتاحة:*
━━━━━━━━━━━━━━━━━━━
✅ InstaPay
✅ Vodafone Cash

⚠️ *يرجى تجديد الاشتراك قبل انتهاء الفترة لتجنب أي انقطاع في الخدمة*`,
		varString(vars, "userName", ""),
		varString(vars, "orgName", ""),
		varString(vars, "daysRemaining", "0"),
		varString(vars, "expiryDate", ""),
		varString(vars, "planNameAr", ""),
	)
}

func expiryUrgentMessage(vars map[string]any) string {
	return fmt.Sprintf(`🚨 *تنبيه هام: اشتراكك ينتهي قريباً!*

━━━━━━━━━━━━━━━━━━━
👤 %s
🏢 %s

⏰ *باقي %s أيام على انتهاء اشتراكك*

━━━━━━━━━━━━━━━━━━━
📅 تاريخ الانتهاء: %s
📦 الباقة: %s

*⚠️ إذا لم يتم التجديد:*
━━━━━━━━━━━━━━━━━━━
❌ ستفقد الوصول للنظام
❌ لن تتمكن من إدارة أسطولك
❌ ستتوقف جميع الإشعارات

*✨ قم بتجديد الاشتراك الآن:*
━━━━━━━━━━━━━━━━━━━
1️⃣ افتح لوحة التحكم
2️⃣ اختر "الاشتراكات"
3️⃣ اختر الباقة المناسبة
4️⃣ أكمل الدفع

🔔 *لا تتأخر في التجديد للحفاظ على استمرارية عملك!*`,
		varString(vars, "userName", ""),
		varString(vars, "orgName", ""),
		varString(vars, "daysRemaining", "0"),
		varString(vars, "expiryDate", ""),
		varString(vars, "planNameAr", ""),
	)
}
