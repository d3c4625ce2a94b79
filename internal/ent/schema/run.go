package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"entgo.io/ent/schema/mixin"
)

// Run holds the schema definition for the Run entity.
type Run struct {
	ent.Schema
}

func (Run) Mixin() []ent.Mixin {
	return []ent.Mixin{
		mixin.Time{},
	}
}

// Fields of the Run.
func (Run) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").NotEmpty().Unique().Immutable().Comment("运行ID（UUID）"),
		field.String("upload_id").Default("").Comment("上传文件ID"),
		field.String("filename").Comment("客户端提交的文件名"),
		field.String("storage_path").Default("").Comment("上传文件的保存路径"),
		field.Enum("status").
			Values("pending", "analyzing", "publishing", "completed", "failed").
			Default("pending").
			Comment("运行状态：pending=待处理, analyzing=分析中, publishing=发布中, completed=已完成, failed=失败"),
		field.Text("summary").Default("").Comment("分析得到的摘要"),
		field.Text("doc_status").Default("").Comment("发布对话结果（JSON）"),
		field.String("error_message").Default("").Comment("错误信息"),
	}
}

// Indexes of the Run.
func (Run) Indexes() []ent.Index {
	return []ent.Index{
		// 索引：用于查询未完成运行
		index.Fields("status"),
		// 索引：用于按保留期清理
		index.Fields("create_time"),
	}
}
