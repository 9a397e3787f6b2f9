package catalog

import (
	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

func registerDocuments(r *entity.Registry) {
	registerDocumentHeaders(r)
	registerDocumentMarks(r)
	registerDocumentStages(r)
	registerDocumentLinks(r)
}

func registerDocumentHeaders(r *entity.Registry) {
	r.Register(entity.Definition{
		Name:  Documents,
		Label: "Documents",
		Order: 30,
		Route: entity.RouteDocument,
		Key:   []string{"id"},
		Columns: []entity.Column{
			{Name: "id", Type: cell.TypeText, Aliases: []string{"ID", "Document ID"}},
			{Name: "number", Type: cell.TypeText, Aliases: []string{"No.", "Number", "Номер"}},
			{Name: "title", Type: cell.TypeText, Aliases: []string{"Title", "Название"}},
			{Name: "department_id", Type: cell.TypeText, Aliases: []string{"Department", "Подразделение"}},
			{Name: "body", Type: cell.TypeJSONDict, Aliases: []string{"Content", "Содержание"}},
			{Name: "status", Type: cell.TypeText, Aliases: []string{"Status", "Статус"}},
			{Name: "version", Type: cell.TypeInt, Aliases: []string{"Version", "Версия"}},
			{Name: "created_at", Type: cell.TypeDateTime, Aliases: []string{"Created", "Создан"}},
			{Name: "created_by", Type: cell.TypeText, Aliases: []string{"Author", "Автор"}},
			{Name: "updated_at", Type: cell.TypeDateTime, Aliases: []string{"Updated", "Изменен"}},
			{Name: "updated_by", Type: cell.TypeText, Aliases: []string{"Editor", "Редактор"}},
			{Name: "signed_by", Type: cell.TypeText, Aliases: []string{"Signer", "Подписал"}},
			{Name: "signed_at", Type: cell.TypeDateTime, Aliases: []string{"Signed", "Подписан"}},
		},
	})
}

func registerDocumentMarks(r *entity.Registry) {
	r.Register(entity.Definition{
		Name:  DocumentMarks,
		Label: "Document Marks",
		Order: 40,
		Route: entity.RouteDocumentChild,
		Key:   []string{"id"},
		Columns: []entity.Column{
			{Name: "id", Type: cell.TypeText, Aliases: []string{"ID", "Mark ID"}},
			{Name: "document_id", Type: cell.TypeText, Aliases: []string{"Document", "Документ"}},
			{Name: "person_id", Type: cell.TypeText, Aliases: []string{"Person", "Сотрудник"}},
			{Name: "value", Type: cell.TypeNumber, Aliases: []string{"Value", "Score", "Оценка"}},
			{Name: "comment", Type: cell.TypeText, Aliases: []string{"Comment", "Комментарий"}},
			{Name: "recorded_at", Type: cell.TypeDateTime, Aliases: []string{"Recorded", "Дата"}},
		},
	})
}

func registerDocumentStages(r *entity.Registry) {
	r.Register(entity.Definition{
		Name:  DocumentStages,
		Label: "Document Stages",
		Order: 50,
		Route: entity.RouteDocumentChild,
		Key:   []string{"id"},
		Columns: []entity.Column{
			{Name: "id", Type: cell.TypeText, Aliases: []string{"ID", "Stage ID"}},
			{Name: "document_id", Type: cell.TypeText, Aliases: []string{"Document", "Документ"}},
			{Name: "name", Type: cell.TypeText, Aliases: []string{"Stage", "Этап"}},
			{Name: "position", Type: cell.TypeInt, Aliases: []string{"Position", "#", "Порядок"}},
			{Name: "due_date", Type: cell.TypeDate, Aliases: []string{"Due", "Due Date", "Срок"}},
			{Name: "done", Type: cell.TypeBool, Aliases: []string{"Done", "Выполнен"}},
			{Name: "checklist", Type: cell.TypeJSONList, Aliases: []string{"Checklist", "Чек-лист"}},
		},
	})
}

// Links have a composite identity and are always inserted on import.
func registerDocumentLinks(r *entity.Registry) {
	r.Register(entity.Definition{
		Name:  DocumentLinks,
		Label: "Document Links",
		Order: 60,
		Route: entity.RoutePlain,
		Key:   []string{"document_id", "linked_id"},
		Columns: []entity.Column{
			{Name: "document_id", Type: cell.TypeText, Aliases: []string{"Document", "Документ"}},
			{Name: "linked_id", Type: cell.TypeText, Aliases: []string{"Linked Document", "Связанный документ"}},
			{Name: "relation", Type: cell.TypeText, Aliases: []string{"Relation", "Связь"}},
			{Name: "created_at", Type: cell.TypeDateTime, Aliases: []string{"Created", "Создан"}},
		},
	})
}
