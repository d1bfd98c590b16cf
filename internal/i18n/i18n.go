// Package i18n 提供国际化支持
// 负责管理应用程序的语言包和翻译功能
package i18n

import (
	"strings"
	"sync"

	"github.com/go-playground/locales/en_US"
	"github.com/go-playground/locales/hi_IN"
	ut "github.com/go-playground/universal-translator"
	"github.com/weiwangfds/medcap/internal/logger"
)

// 支持的语言
const (
	LangEnUS = "en-US"
	LangHiIN = "hi-IN"
)

var (
	instance *I18n
	once     sync.Once

	// 语言包存储
	translations = map[string]map[string]string{
		LangEnUS: {
			"success":               "Success",
			"internal_server_error": "Something went wrong. Please try again.",
			"invalid_params":        "Invalid parameters",
			"unauthorized":          "Login required",
			"forbidden":             "You do not have permission to perform this action",
			"not_found":             "Resource not found",
			"conflict":              "Resource already exists",
			"too_many_requests":     "Too many requests",

			"file_not_found":        "File not found",
			"file_upload_failed":    "File upload failed",
			"file_read_failed":      "File could not be read",
			"file_size_too_large":   "File exceeds the size limit",
			"file_type_not_allowed": "File type not allowed",
			"no_file_uploaded":      "No file uploaded!",

			"storage_config_invalid":         "Storage configuration is invalid",
			"storage_connection_failed":      "Storage backend unreachable",
			"storage_write_failed":           "Could not store file",
			"storage_read_failed":            "Could not read stored file",
			"storage_delete_failed":          "Could not delete stored file",
			"storage_move_failed":            "Could not move stored file",
			"storage_provider_not_supported": "Storage provider not supported",

			"database_connection":   "Database connection error",
			"database_query":        "Database query error",
			"database_insert":       "Database insert error",
			"database_update":       "Database update error",
			"database_transaction":  "Database transaction error",
			"record_not_found":      "Record not found",
			"record_already_exists": "Record already exists",

			"invalid_uhid":          "UHID must be a valid number!",
			"tag_required":          "Custom tag is required!",
			"invalid_tag":           "Invalid custom tag selected.",
			"patient_not_found":     "Patient not found!",
			"not_deleted":           "Item is not deleted.",
			"pending_issue_limit":   "Maximum pending issues reached. Please wait until one is completed.",
			"invalid_credentials":   "Invalid email or password.",
			"account_locked":        "Account locked due to too many failed attempts. Contact the administrator.",
			"approval_pending":      "Your account is pending approval.",
			"spreadsheet_malformed": "Spreadsheet could not be read",
			"issue_id_exhausted":    "Could not allocate an issue ID",
			"unsupported_kind":      "Unsupported record type",

			"unknown_error": "Unknown error",
		},
		LangHiIN: {
			"success":               "सफल",
			"internal_server_error": "कुछ गलत हो गया। कृपया पुनः प्रयास करें।",
			"invalid_params":        "अमान्य पैरामीटर",
			"unauthorized":          "लॉगिन आवश्यक है",
			"forbidden":             "आपको यह कार्य करने की अनुमति नहीं है",
			"not_found":             "संसाधन नहीं मिला",
			"conflict":              "संसाधन पहले से मौजूद है",
			"too_many_requests":     "बहुत अधिक अनुरोध",

			"file_not_found":        "फ़ाइल नहीं मिली",
			"file_upload_failed":    "फ़ाइल अपलोड विफल",
			"file_read_failed":      "फ़ाइल पढ़ी नहीं जा सकी",
			"file_size_too_large":   "फ़ाइल आकार सीमा से अधिक है",
			"file_type_not_allowed": "फ़ाइल प्रकार की अनुमति नहीं है",
			"no_file_uploaded":      "कोई फ़ाइल अपलोड नहीं हुई!",

			"storage_config_invalid":         "स्टोरेज कॉन्फ़िगरेशन अमान्य है",
			"storage_connection_failed":      "स्टोरेज से संपर्क नहीं हो सका",
			"storage_write_failed":           "फ़ाइल संग्रहीत नहीं हो सकी",
			"storage_read_failed":            "संग्रहीत फ़ाइल पढ़ी नहीं जा सकी",
			"storage_delete_failed":          "संग्रहीत फ़ाइल हटाई नहीं जा सकी",
			"storage_move_failed":            "संग्रहीत फ़ाइल स्थानांतरित नहीं हो सकी",
			"storage_provider_not_supported": "स्टोरेज प्रदाता समर्थित नहीं है",

			"database_connection":   "डेटाबेस कनेक्शन त्रुटि",
			"database_query":        "डेटाबेस क्वेरी त्रुटि",
			"database_insert":       "डेटाबेस प्रविष्टि त्रुटि",
			"database_update":       "डेटाबेस अद्यतन त्रुटि",
			"database_transaction":  "डेटाबेस लेनदेन त्रुटि",
			"record_not_found":      "रिकॉर्ड नहीं मिला",
			"record_already_exists": "रिकॉर्ड पहले से मौजूद है",

			"invalid_uhid":          "UHID एक मान्य संख्या होनी चाहिए!",
			"tag_required":          "टैग चुनना आवश्यक है!",
			"invalid_tag":           "अमान्य टैग चुना गया।",
			"patient_not_found":     "मरीज़ नहीं मिला!",
			"not_deleted":           "यह आइटम हटाया नहीं गया है।",
			"pending_issue_limit":   "लंबित समस्याओं की अधिकतम संख्या पूरी हो गई है।",
			"invalid_credentials":   "अमान्य ईमेल या पासवर्ड।",
			"account_locked":        "बहुत अधिक असफल प्रयासों के कारण खाता लॉक है।",
			"approval_pending":      "आपका खाता स्वीकृति के लिए लंबित है।",
			"spreadsheet_malformed": "स्प्रेडशीट पढ़ी नहीं जा सकी",
			"issue_id_exhausted":    "समस्या आईडी आवंटित नहीं हो सकी",
			"unsupported_kind":      "असमर्थित रिकॉर्ड प्रकार",

			"unknown_error": "अज्ञात त्रुटि",
		},
	}
)

// I18n 国际化管理器
type I18n struct {
	translators map[string]ut.Translator
	defaultLang string
}

// GetInstance 获取I18n单例
func GetInstance() *I18n {
	once.Do(func() {
		instance = &I18n{
			translators: make(map[string]ut.Translator),
			defaultLang: LangEnUS,
		}
		instance.initTranslators()
	})
	return instance
}

// initTranslators 初始化翻译器
func (i *I18n) initTranslators() {
	enUS := en_US.New()
	uni := ut.New(enUS, enUS, hi_IN.New())

	langMappings := map[string]string{
		LangEnUS: "en_US",
		LangHiIN: "hi_IN",
	}

	for ourLang, localeLang := range langMappings {
		trans, found := uni.GetTranslator(localeLang)
		if !found {
			logger.Errorf("初始化翻译器失败 for language %s (locale: %s): translator not found", ourLang, localeLang)
			continue
		}
		i.translators[ourLang] = trans
	}
}

// Translate 根据键和语言获取翻译，找不到时回退到默认语言，再回退到键本身
func (i *I18n) Translate(key, lang string) string {
	if translation, found := translations[lang][key]; found {
		return translation
	}
	if translation, found := translations[i.defaultLang][key]; found {
		return translation
	}
	logger.Warnf("未找到翻译: %s, 语言: %s", key, lang)
	return key
}

// SetDefaultLanguage 设置默认语言，不支持的语言会被忽略
func (i *I18n) SetDefaultLanguage(lang string) {
	if !i.IsSupportedLanguage(lang) {
		logger.Warnf("不支持的默认语言: %s", lang)
		return
	}
	i.defaultLang = lang
}

// GetDefaultLanguage 获取默认语言
func (i *I18n) GetDefaultLanguage() string {
	return i.defaultLang
}

// IsSupportedLanguage 检查语言是否支持
func (i *I18n) IsSupportedLanguage(lang string) bool {
	_, exists := i.translators[lang]
	return exists
}

// Negotiate 从Accept-Language头中挑选第一个支持的语言
func (i *I18n) Negotiate(acceptLanguage string) string {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" {
			continue
		}
		if i.IsSupportedLanguage(tag) {
			return tag
		}
		// hi -> hi-IN, en -> en-US
		for lang := range i.translators {
			if strings.HasPrefix(strings.ToLower(lang), strings.ToLower(tag)+"-") {
				return lang
			}
		}
	}
	return i.defaultLang
}

// FormatNumber 使用语言对应的locale格式化数字
func (i *I18n) FormatNumber(lang string, num float64, digits uint64) string {
	trans, ok := i.translators[lang]
	if !ok {
		trans = i.translators[i.defaultLang]
	}
	if trans == nil {
		return ""
	}
	return trans.FmtNumber(num, digits)
}
