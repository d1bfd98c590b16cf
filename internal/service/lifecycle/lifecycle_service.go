// Package lifecycle 负责影像/文件记录的软删除、恢复、浏览和打包下载
package lifecycle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/weiwangfds/medcap/config"
	"github.com/weiwangfds/medcap/internal/database"
	apperrors "github.com/weiwangfds/medcap/internal/errors"
	"github.com/weiwangfds/medcap/internal/logger"
	"github.com/weiwangfds/medcap/internal/service/derive"
	"github.com/weiwangfds/medcap/internal/service/storage"
	"gorm.io/gorm"
)

// Result 删除/恢复结果
// Changed为false表示记录已处于目标状态，未做任何写入
type Result struct {
	Kind     database.AssetKind        `json:"kind"`
	ID       uint                      `json:"id"`
	Changed  bool                      `json:"changed"`
	Message  string                    `json:"message"`
	Cascaded int                       `json:"cascaded"`          // 随之删除/恢复的派生文档数
	Derived  *database.DerivedDocument `json:"derived,omitempty"` // 恢复时重新生成的摘要
}

// AssetView 列表展示用的记录
type AssetView struct {
	Kind database.AssetKind `json:"kind"`
	database.Asset
	TagName string `json:"tag_name"`
	Size    string `json:"size"`
	URL     string `json:"url"`
}

// LifecycleService 记录生命周期服务接口
type LifecycleService interface {
	// Delete 软删除记录，图片的派生文档一并删除
	// 参数:
	//   ctx - 上下文
	//   actorID - 操作人
	//   kind - 记录类型
	//   id - 记录ID
	// 返回:
	//   *Result - 已删除时Changed为false并带提示语
	//   error - 记录不存在、类型不支持或写入失败
	Delete(ctx context.Context, actorID uint, kind database.AssetKind, id uint) (*Result, error)

	// Restore 恢复已删除的记录，图片的已删除派生文档一并恢复
	// 记录未被删除时返回ErrNotDeleted
	Restore(ctx context.Context, actorID uint, kind database.AssetKind, id uint) (*Result, error)

	// Regenerate 管理员重新生成图片的PDF摘要
	// 现有的有效摘要按删除流程标记为已取代，之后恢复图片时不会随之恢复
	Regenerate(ctx context.Context, actorID uint, kind database.AssetKind, id uint) (*database.DerivedDocument, error)

	// Get 按类型读取记录
	Get(kind database.AssetKind, id uint) (*database.Asset, error)

	// Open 打开记录对应的存储对象，调用方负责关闭
	Open(ctx context.Context, kind database.AssetKind, id uint) (*database.Asset, io.ReadCloser, error)

	// ListDeleted 列出操作人删除的记录，最近删除的在前
	// uhid为nil时不按病人过滤
	ListDeleted(actorID uint, uhid *int32) ([]AssetView, error)

	// ListAssets 列出病人某类未删除的记录，最新的在前
	ListAssets(uhid int32, kind database.AssetKind) ([]AssetView, error)

	// Archive 将病人未删除的对象打包为zip写入w
	// kind为空时包含全部类型，返回写入的文件数
	Archive(ctx context.Context, uhid int32, kind database.AssetKind, w io.Writer) (int, error)
}

type lifecycleService struct {
	db                  *gorm.DB
	store               storage.Store
	deriver             derive.DeriveService
	relocate            bool
	regenerateOnRestore bool
}

// NewLifecycleService 创建生命周期服务
func NewLifecycleService(db *gorm.DB, store storage.Store, deriver derive.DeriveService,
	storageCfg config.StorageConfig, derivationCfg config.DerivationConfig) LifecycleService {
	return &lifecycleService{
		db:                  db,
		store:               store,
		deriver:             deriver,
		relocate:            storageCfg.RelocateOnDelete,
		regenerateOnRestore: derivationCfg.RegenerateOnRestore,
	}
}

// move 一次已完成的对象移动，事务失败时按相反方向撤销
type move struct {
	from, to string
}

func (s *lifecycleService) undo(ctx context.Context, moves []move) {
	for i := len(moves) - 1; i >= 0; i-- {
		if err := s.store.Move(ctx, moves[i].to, moves[i].from); err != nil {
			logger.Errorf("撤销文件移动失败: %s -> %s, 错误: %v", moves[i].to, moves[i].from, err)
		}
	}
}

func (s *lifecycleService) find(db *gorm.DB, kind database.AssetKind, id uint) (*database.Asset, error) {
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrUnsupportedKind, "")
	}
	a, err := database.FindAsset(db, kind, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "%s not found.", kind.Noun())
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return a, nil
}

func (s *lifecycleService) Get(kind database.AssetKind, id uint) (*database.Asset, error) {
	return s.find(s.db, kind, id)
}

func (s *lifecycleService) Open(ctx context.Context, kind database.AssetKind, id uint) (*database.Asset, io.ReadCloser, error) {
	a, err := s.find(s.db, kind, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, a.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, apperrors.New(apperrors.ErrFileNotFound, "")
		}
		return nil, nil, apperrors.Wrap(apperrors.ErrStorageRead, "", err)
	}
	return a, rc, nil
}

// relocateTo 计算删除后对象所在的位置
func relocateTo(a *database.Asset) string {
	return path.Join(storage.PatientFolder(a.UHID, storage.CategoryDeleted), path.Base(a.FilePath))
}

// restoreTo 恢复时对象应回到的位置
func restoreTo(a *database.Asset) string {
	return path.Join(a.FolderPath, path.Base(a.FilePath))
}

// moveObject 移动对象并记录；目标已被占用时改用带随机后缀的键，对象不存在时仅告警，记录保持原路径
func (s *lifecycleService) moveObject(ctx context.Context, moves *[]move, from, to string) (string, error) {
	if from == to {
		return from, nil
	}
	to, err := storage.UniqueKey(ctx, s.store, to)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageMove, "", err)
	}
	if err := s.store.Move(ctx, from, to); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			logger.Warnf("待移动的文件不存在: %s", from)
			return from, nil
		}
		return "", apperrors.Wrap(apperrors.ErrStorageMove, "", err)
	}
	*moves = append(*moves, move{from: from, to: to})
	return to, nil
}

func (s *lifecycleService) Delete(ctx context.Context, actorID uint, kind database.AssetKind, id uint) (*Result, error) {
	a, err := s.find(s.db, kind, id)
	if err != nil {
		return nil, err
	}
	result := &Result{Kind: kind, ID: id}
	if a.IsDeleted {
		result.Message = fmt.Sprintf("%s already deleted.", kind.Noun())
		return result, nil
	}

	now := time.Now()
	var moves []move
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.markDeleted(ctx, tx, &moves, kind, a, actorID, now); err != nil {
			return err
		}
		if !kind.IsImage() {
			return nil
		}

		var docs []database.DerivedDocument
		if err := tx.Where("source_kind = ? AND source_id = ? AND is_deleted = ?", kind, id, false).
			Find(&docs).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		for i := range docs {
			if err := s.markDeleted(ctx, tx, &moves, database.KindDerivedDocument, &docs[i].Asset, actorID, now); err != nil {
				return err
			}
		}
		result.Cascaded = len(docs)
		return nil
	})
	if err != nil {
		s.undo(ctx, moves)
		return nil, err
	}

	result.Changed = true
	result.Message = fmt.Sprintf("%s deleted successfully.", kind.Noun())
	logger.WithFields(map[string]interface{}{
		"uhid": a.UHID, "kind": kind, "id": id, "actor": actorID, "cascaded": result.Cascaded,
	}).Info("记录已删除")
	return result, nil
}

func (s *lifecycleService) markDeleted(ctx context.Context, tx *gorm.DB, moves *[]move,
	kind database.AssetKind, a *database.Asset, actorID uint, now time.Time) error {
	filePath := a.FilePath
	if s.relocate {
		var err error
		if filePath, err = s.moveObject(ctx, moves, a.FilePath, relocateTo(a)); err != nil {
			return err
		}
	}
	err := tx.Table(kind.Table()).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"is_deleted":    true,
		"deleted_on":    now,
		"deleted_by_id": actorID,
		"file_path":     filePath,
		"updated_at":    now,
	}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	return nil
}

func (s *lifecycleService) Restore(ctx context.Context, actorID uint, kind database.AssetKind, id uint) (*Result, error) {
	a, err := s.find(s.db, kind, id)
	if err != nil {
		return nil, err
	}
	if !a.IsDeleted {
		return nil, apperrors.Newf(apperrors.ErrNotDeleted, "%s is not deleted.", kind.Noun())
	}
	if kind == database.KindDerivedDocument {
		var superseded int64
		if err := s.db.Model(&database.DerivedDocument{}).
			Where("id = ? AND superseded = ?", id, true).Count(&superseded).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		if superseded > 0 {
			return nil, apperrors.New(apperrors.ErrConflict, "This summary was replaced by a newer one and cannot be restored.")
		}
	}

	result := &Result{Kind: kind, ID: id}
	var moves []move
	var total int64
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.markRestored(ctx, tx, &moves, kind, a); err != nil {
			return err
		}
		if !kind.IsImage() {
			return nil
		}

		var docs []database.DerivedDocument
		if err := tx.Where("source_kind = ? AND source_id = ? AND is_deleted = ? AND superseded = ?", kind, id, true, false).
			Find(&docs).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		for i := range docs {
			if err := s.markRestored(ctx, tx, &moves, database.KindDerivedDocument, &docs[i].Asset); err != nil {
				return err
			}
		}
		result.Cascaded = len(docs)

		if err := tx.Model(&database.DerivedDocument{}).
			Where("source_kind = ? AND source_id = ?", kind, id).Count(&total).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		return nil
	})
	if err != nil {
		s.undo(ctx, moves)
		return nil, err
	}

	result.Changed = true
	result.Message = fmt.Sprintf("%s restored successfully.", kind.Noun())
	logger.WithFields(map[string]interface{}{
		"uhid": a.UHID, "kind": kind, "id": id, "actor": actorID, "cascaded": result.Cascaded,
	}).Info("记录已恢复")

	if s.regenerateOnRestore && kind.IsImage() && total == 0 && s.deriver != nil {
		doc, err := s.deriver.Derive(ctx, kind, id)
		if err != nil {
			logger.WithField("id", id).Errorf("恢复后重新生成PDF摘要失败: %v", err)
		}
		result.Derived = doc
	}
	return result, nil
}

func (s *lifecycleService) Regenerate(ctx context.Context, actorID uint, kind database.AssetKind, id uint) (*database.DerivedDocument, error) {
	if !kind.IsImage() {
		return nil, apperrors.New(apperrors.ErrUnsupportedKind, "")
	}
	src, err := s.find(s.db, kind, id)
	if err != nil {
		return nil, err
	}
	if src.IsDeleted {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "Restore the image before regenerating its summary.")
	}
	// 先确认标签可生成摘要，旧摘要在此之前保持不变
	var tg database.Tag
	if src.TagID == nil || s.db.First(&tg, *src.TagID).Error != nil || s.deriver.SummaryKind(&tg) == derive.SummaryNone {
		return nil, apperrors.New(apperrors.ErrInvalidTag, "Image is not tagged with a summary tag.")
	}

	now := time.Now()
	var moves []move
	var superseded []uint
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var docs []database.DerivedDocument
		if err := tx.Where("source_kind = ? AND source_id = ? AND is_deleted = ?", kind, id, false).
			Find(&docs).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		for i := range docs {
			if err := s.markDeleted(ctx, tx, &moves, database.KindDerivedDocument, &docs[i].Asset, actorID, now); err != nil {
				return err
			}
			superseded = append(superseded, docs[i].ID)
		}
		if len(superseded) == 0 {
			return nil
		}
		if err := tx.Model(&database.DerivedDocument{}).Where("id IN ?", superseded).
			Update("superseded", true).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
		}
		return nil
	})
	if err != nil {
		s.undo(ctx, moves)
		return nil, err
	}

	doc, err := s.deriver.Derive(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperrors.New(apperrors.ErrInvalidTag, "Image is not tagged with a summary tag.")
	}
	logger.WithFields(map[string]interface{}{
		"uhid": src.UHID, "kind": kind, "id": id, "actor": actorID, "document": doc.ID, "superseded": superseded,
	}).Info("PDF摘要已重新生成")
	return doc, nil
}

func (s *lifecycleService) markRestored(ctx context.Context, tx *gorm.DB, moves *[]move,
	kind database.AssetKind, a *database.Asset) error {
	filePath, err := s.moveObject(ctx, moves, a.FilePath, restoreTo(a))
	if err != nil {
		return err
	}
	err = tx.Table(kind.Table()).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"is_deleted":    false,
		"deleted_on":    nil,
		"deleted_by_id": nil,
		"file_path":     filePath,
		"updated_at":    time.Now(),
	}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseUpdate, "", err)
	}
	return nil
}

var allKinds = []database.AssetKind{
	database.KindUploadedFile,
	database.KindUploadedImage,
	database.KindCapturedImage,
	database.KindDerivedDocument,
}

func (s *lifecycleService) ListDeleted(actorID uint, uhid *int32) ([]AssetView, error) {
	var views []AssetView
	for _, kind := range allKinds {
		q := s.db.Table(kind.Table()).Where("is_deleted = ? AND deleted_by_id = ?", true, actorID)
		if uhid != nil {
			q = q.Where("uhid = ?", *uhid)
		}
		var assets []database.Asset
		if err := q.Find(&assets).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
		}
		views = append(views, s.views(kind, assets)...)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return deletedOn(views[i]).After(deletedOn(views[j]))
	})
	return views, nil
}

func deletedOn(v AssetView) time.Time {
	if v.DeletedOn == nil {
		return time.Time{}
	}
	return *v.DeletedOn
}

func (s *lifecycleService) ListAssets(uhid int32, kind database.AssetKind) ([]AssetView, error) {
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrUnsupportedKind, "")
	}
	assets, err := s.active(uhid, kind)
	if err != nil {
		return nil, err
	}
	return s.views(kind, assets), nil
}

func (s *lifecycleService) active(uhid int32, kind database.AssetKind) ([]database.Asset, error) {
	var assets []database.Asset
	err := s.db.Table(kind.Table()).
		Where("uhid = ? AND is_deleted = ?", uhid, false).
		Order("timestamp DESC").Order("id DESC").
		Find(&assets).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabaseQuery, "", err)
	}
	return assets, nil
}

// views 补充标签名、大小和访问地址
func (s *lifecycleService) views(kind database.AssetKind, assets []database.Asset) []AssetView {
	tagNames := s.tagNames(assets)
	views := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		v := AssetView{Kind: kind, Asset: a, Size: FormatSize(a.FileSize), URL: s.store.URL(a.FilePath)}
		if a.TagID != nil {
			v.TagName = tagNames[*a.TagID]
		}
		views = append(views, v)
	}
	return views
}

func (s *lifecycleService) tagNames(assets []database.Asset) map[uint]string {
	ids := make([]uint, 0, len(assets))
	for _, a := range assets {
		if a.TagID != nil {
			ids = append(ids, *a.TagID)
		}
	}
	names := make(map[uint]string)
	if len(ids) == 0 {
		return names
	}
	var tags []database.Tag
	if err := s.db.Where("id IN ?", ids).Find(&tags).Error; err != nil {
		logger.Warnf("查询标签名称失败: %v", err)
		return names
	}
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	return names
}

// FormatSize 小于1MB按KB展示，否则按MB展示
func FormatSize(size int64) string {
	const mb = 1024 * 1024
	if size < mb {
		return fmt.Sprintf("%.2f KB", float64(size)/1024)
	}
	return fmt.Sprintf("%.2f MB", float64(size)/mb)
}

func (s *lifecycleService) Archive(ctx context.Context, uhid int32, kind database.AssetKind, w io.Writer) (int, error) {
	kinds := allKinds
	if kind != "" {
		if !kind.Valid() {
			return 0, apperrors.New(apperrors.ErrUnsupportedKind, "")
		}
		kinds = []database.AssetKind{kind}
	}

	zw := zip.NewWriter(w)
	written := 0
	for _, k := range kinds {
		assets, err := s.active(uhid, k)
		if err != nil {
			return written, err
		}
		for _, a := range assets {
			ok, err := s.addToArchive(ctx, zw, a)
			if err != nil {
				return written, err
			}
			if ok {
				written++
			}
		}
	}
	if err := zw.Close(); err != nil {
		return written, apperrors.Internal(err)
	}
	return written, nil
}

// addToArchive 缺失的对象记录日志后跳过
func (s *lifecycleService) addToArchive(ctx context.Context, zw *zip.Writer, a database.Asset) (bool, error) {
	rc, err := s.store.Open(ctx, a.FilePath)
	if err != nil {
		logger.Warnf("打包时跳过无法读取的文件: %s, 错误: %v", a.FilePath, err)
		return false, nil
	}
	defer rc.Close()

	header := &zip.FileHeader{Name: a.FilePath, Method: zip.Deflate, Modified: a.Timestamp}
	entry, err := zw.CreateHeader(header)
	if err != nil {
		return false, apperrors.Internal(err)
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorageRead, "", err)
	}
	return true, nil
}
