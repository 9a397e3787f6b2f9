package catalog

import (
	"github.com/JonMunkholm/recordkeeper/internal/cell"
	"github.com/JonMunkholm/recordkeeper/internal/entity"
)

func registerReference(r *entity.Registry) {
	registerDepartments(r)
	registerPeople(r)
}

func registerDepartments(r *entity.Registry) {
	r.Register(entity.Definition{
		Name:  Departments,
		Label: "Departments",
		Order: 10,
		Route: entity.RoutePlain,
		Key:   []string{"id"},
		Columns: []entity.Column{
			{Name: "id", Type: cell.TypeText, Aliases: []string{"ID", "Department ID"}},
			{Name: "code", Type: cell.TypeText, Aliases: []string{"Code", "Код"}},
			{Name: "name", Type: cell.TypeText, Aliases: []string{"Name", "Department", "Наименование"}},
			{Name: "created_at", Type: cell.TypeDateTime, Aliases: []string{"Created", "Создан"}},
		},
	})
}

func registerPeople(r *entity.Registry) {
	r.Register(entity.Definition{
		Name:  People,
		Label: "People",
		Order: 20,
		Route: entity.RoutePlain,
		Key:   []string{"id"},
		Columns: []entity.Column{
			{Name: "id", Type: cell.TypeText, Aliases: []string{"ID", "Person ID"}},
			{Name: "full_name", Type: cell.TypeText, Aliases: []string{"Full Name", "Name", "ФИО"}},
			{Name: "email", Type: cell.TypeText, Aliases: []string{"E-mail", "Email", "Эл. почта"}},
			{Name: "department_id", Type: cell.TypeText, Aliases: []string{"Department", "Dept", "Подразделение"}},
			{Name: "birth_date", Type: cell.TypeDate, Aliases: []string{"Birth Date", "DOB", "Дата рождения"}},
			{Name: "active", Type: cell.TypeBool, Aliases: []string{"Active", "Активен"}},
			{Name: "tags", Type: cell.TypeJSONList, Aliases: []string{"Tags", "Метки"}},
			{Name: "hired_at", Type: cell.TypeDateTime, Aliases: []string{"Hired", "Hire Date", "Дата приема"}},
		},
	})
}
